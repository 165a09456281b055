package compute

import "github.com/hanzoai/compute/common"

// EventKind tags the single at-least-once event stream the swarm exposes
// via subscribe() (spec §4.5).
type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventTaskSubmitted
	EventPieceAssigned
	EventPieceResultReceived
	EventPieceVerified
	EventTaskCompleted
	EventTaskFailed
)

// Event is the single concrete type posted to the swarm's event.Feed;
// exactly one of its payload fields is meaningful per Kind.
type Event struct {
	Kind     EventKind
	PeerID   common.PeerID
	TaskID   common.TaskID
	PieceID  common.PieceID
	Reason   string
}
