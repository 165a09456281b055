package compute

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json2"

	"github.com/hanzoai/compute/common"
)

// SwarmService exposes task submission and status over JSON-RPC 2.0, the
// CLI-facing counterpart to the abstract peer<->swarm RPC (ListTasks,
// AssignTask, SubmitResult, Heartbeat) a peer node speaks. Grounded on
// mining/rpc.go's LedgerService: same gorilla/rpc + json2 wiring, same
// method-per-struct shape.
type SwarmService struct {
	swarm *Swarm
}

// NewSwarmService wraps a Swarm for RPC dispatch.
func NewSwarmService(swarm *Swarm) *SwarmService {
	return &SwarmService{swarm: swarm}
}

// NewHTTPHandler builds the http.Handler serving this service at /rpc,
// registered under the "compute" prefix the way mining.NewHTTPHandler
// registers LedgerService under "ledger".
func NewHTTPHandler(svc *SwarmService) http.Handler {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	_ = server.RegisterService(svc, "compute")
	return server
}

// SubmitTaskArgs mirrors the `compute submit` flag surface (spec §6).
type SubmitTaskArgs struct {
	TaskType      string  `json:"task_type"`
	Model         string  `json:"model"`
	Prompt        string  `json:"prompt"`
	Input         string  `json:"input_hex"`
	Redundancy    int     `json:"redundancy"`
	Reward        float64 `json:"reward"`
	MinReputation float64 `json:"min_reputation"`
	RequiresTEE   bool    `json:"requires_tee"`
}

type SubmitTaskReply struct {
	TaskID string `json:"task_id"`
}

func parseTaskType(s string) (TaskType, error) {
	switch s {
	case "inference", "Inference":
		return TaskInference, nil
	case "embedding", "Embedding":
		return TaskEmbedding, nil
	case "reranking", "Reranking":
		return TaskReranking, nil
	case "training", "Training":
		return TaskTraining, nil
	case "custom", "Custom":
		return TaskCustom, nil
	default:
		return 0, common.New(common.KindInvalidData, "unknown task type %q", s)
	}
}

// SubmitTask decodes the CLI's flags into a Task and hands it to the swarm.
func (s *SwarmService) SubmitTask(r *http.Request, args *SubmitTaskArgs, reply *SubmitTaskReply) error {
	taskType, err := parseTaskType(args.TaskType)
	if err != nil {
		return rpcError(err)
	}
	if taskType.RequiresModel() && args.Model == "" {
		return rpcError(common.New(common.KindInvalidData, "task type %s requires --model", args.TaskType))
	}
	input, err := hex.DecodeString(args.Input)
	if err != nil {
		return rpcError(common.Wrap(err, common.KindInvalidData, "decode input hex"))
	}
	task := &Task{
		ID:            common.NewTaskID(),
		Type:          taskType,
		Model:         args.Model,
		Prompt:        args.Prompt,
		Redundancy:    args.Redundancy,
		Reward:        args.Reward,
		MinReputation: args.MinReputation,
		RequiresTEE:   args.RequiresTEE,
	}
	id, err := s.swarm.SubmitTask(task, input)
	if err != nil {
		return rpcError(err)
	}
	reply.TaskID = id.String()
	return nil
}

type GetTaskStatusArgs struct {
	TaskID        string `json:"task_id"`
	AwaitMs       int64  `json:"await_ms,omitempty"`
}

type GetTaskStatusReply struct {
	Found    bool   `json:"found"`
	Verified int    `json:"verified"`
	Total    int    `json:"total"`
	Complete bool   `json:"complete"`
	Failed   bool   `json:"failed"`
	Reason   string `json:"reason,omitempty"`
	Result   string `json:"result_hex,omitempty"`
}

func decodeTaskID(s string) (common.TaskID, error) {
	var id common.TaskID
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(id) {
		return id, common.New(common.KindInvalidData, "malformed task id")
	}
	copy(id[:], raw)
	return id, nil
}

// GetTaskStatus reports a task's piece progress, optionally blocking up to
// await_ms for completion (used by `compute status` to avoid a busy-poll
// loop in the CLI itself).
func (s *SwarmService) GetTaskStatus(r *http.Request, args *GetTaskStatusArgs, reply *GetTaskStatusReply) error {
	id, err := decodeTaskID(args.TaskID)
	if err != nil {
		return rpcError(err)
	}
	if _, ok := s.swarm.lookupTask(id); !ok {
		reply.Found = false
		return nil
	}
	reply.Found = true

	if args.AwaitMs > 0 {
		data, err := s.swarm.AwaitResult(id, time.Duration(args.AwaitMs)*time.Millisecond)
		switch {
		case err == nil:
			reply.Complete = true
			reply.Result = hex.EncodeToString(data)
		case common.KindOf(err) == common.KindTimeout:
			// fall through to reporting progress below
		case common.KindOf(err) == common.KindVerificationFailed:
			reply.Failed = true
			reply.Reason = err.Error()
		default:
			return rpcError(err)
		}
	}
	reply.Verified, reply.Total = s.swarm.GetTaskProgress(id)
	return nil
}

func rpcError(err error) error {
	if err == nil {
		return nil
	}
	return &json2.Error{Code: json2.ErrorCode(common.KindOf(err).RPCCode()), Message: err.Error()}
}
