// Package compute implements the Compute Swarm: task ingestion, piece
// splitting, rarest-first scheduling, peer lifecycle and result
// verification. Grounded on the teacher's work/worker.go (mailbox-driven
// coordinator over a mutex-guarded state machine, event.TypeMux fan-out)
// generalized from "mine the next block" to "dispatch the next piece".
package compute

import (
	"encoding/json"
	"math"

	"github.com/hanzoai/compute/common"
)

// TaskType is a closed tagged variant (spec §3, §9: "Model TaskType ... as
// closed sum types, not open dispatch").
type TaskType int

const (
	TaskInference TaskType = iota
	TaskEmbedding
	TaskReranking
	TaskTraining
	TaskCustom
)

func (t TaskType) String() string {
	switch t {
	case TaskInference:
		return "Inference"
	case TaskEmbedding:
		return "Embedding"
	case TaskReranking:
		return "Reranking"
	case TaskTraining:
		return "Training"
	case TaskCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// RequiresModel reports whether this task type carries a required model
// identifier (every variant except Custom, which is model-agnostic).
func (t TaskType) RequiresModel() bool { return t != TaskCustom }

// Task is immutable once submitted (spec §3).
type Task struct {
	ID            common.TaskID
	Creator       common.PeerID
	Type          TaskType
	Model         string // required unless Type == TaskCustom
	Prompt        string
	MaxTokens     int
	Input         []byte
	NumPieces     int
	Redundancy    int
	Reward        float64
	MinReputation float64
	RequiresTEE   bool
	Deadline      *int64 // Unix seconds
}

// CanonicalEncoding returns a deterministic encoding of task_type and the
// task's scalar fields. Swarm.SubmitTask prepends this to the raw input
// before splitting, so create_pieces operates on the canonical serialization
// (spec §4.5: "Input is serialized canonically") rather than the raw bytes
// alone.
func (t *Task) CanonicalEncoding() []byte {
	b, _ := json.Marshal(struct {
		Type      string `json:"task_type"`
		Model     string `json:"model,omitempty"`
		Prompt    string `json:"prompt,omitempty"`
		MaxTokens int    `json:"max_tokens,omitempty"`
	}{t.Type.String(), t.Model, t.Prompt, t.MaxTokens})
	return b
}

// ChunkSize returns ceil(|input|/num_pieces), the split granularity used by
// create_pieces (spec §4.5).
func (t *Task) ChunkSize() int {
	if t.NumPieces <= 0 {
		return len(t.Input)
	}
	return int(math.Ceil(float64(len(t.Input)) / float64(t.NumPieces)))
}

// Result is a single peer's computation over one piece (spec §3).
type Result struct {
	TaskID       common.TaskID
	PieceIndex   int
	Data         []byte
	ResultHash   common.Hash
	ComputedBy   common.PeerID
	ComputeTime  int64 // ms
}

// NewResult hashes Data with Blake3 to populate ResultHash.
func NewResult(taskID common.TaskID, pieceIndex int, data []byte, by common.PeerID, computeTimeMs int64) Result {
	return Result{
		TaskID:      taskID,
		PieceIndex:  pieceIndex,
		Data:        data,
		ResultHash:  common.Blake3Hash(data),
		ComputedBy:  by,
		ComputeTime: computeTimeMs,
	}
}
