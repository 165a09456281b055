package compute

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/rpc/json2"
	"github.com/stretchr/testify/require"
)

func newTestRPCServer(t *testing.T, s *Swarm) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHTTPHandler(NewSwarmService(s)))
	t.Cleanup(srv.Close)
	return srv
}

func callRPC(t *testing.T, url, method string, args, reply interface{}) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, args)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return json2.DecodeClientResponse(resp.Body, reply)
}

func TestSwarmService_SubmitAndStatus(t *testing.T) {
	s := NewSwarm(DefaultConfig(), nil)
	s.Start()
	srv := newTestRPCServer(t, s)

	var submitReply SubmitTaskReply
	err := callRPC(t, srv.URL, "compute.SubmitTask", &SubmitTaskArgs{
		TaskType:   "inference",
		Model:      "m1",
		Input:      hex.EncodeToString([]byte("hello world")),
		Redundancy: 1,
		Reward:     1.0,
	}, &submitReply)
	require.NoError(t, err)
	require.NotEmpty(t, submitReply.TaskID)

	var statusReply GetTaskStatusReply
	err = callRPC(t, srv.URL, "compute.GetTaskStatus", &GetTaskStatusArgs{
		TaskID: submitReply.TaskID,
	}, &statusReply)
	require.NoError(t, err)
	require.True(t, statusReply.Found)
}

func TestSwarmService_SubmitRejectsUnknownTaskType(t *testing.T) {
	s := NewSwarm(DefaultConfig(), nil)
	s.Start()
	srv := newTestRPCServer(t, s)

	var reply SubmitTaskReply
	err := callRPC(t, srv.URL, "compute.SubmitTask", &SubmitTaskArgs{
		TaskType: "not-a-real-type",
	}, &reply)
	require.Error(t, err)
}

func TestSwarmService_StatusUnknownTaskNotFound(t *testing.T) {
	s := NewSwarm(DefaultConfig(), nil)
	s.Start()
	srv := newTestRPCServer(t, s)

	var reply GetTaskStatusReply
	err := callRPC(t, srv.URL, "compute.GetTaskStatus", &GetTaskStatusArgs{
		TaskID: hex.EncodeToString(make([]byte, 16)),
	}, &reply)
	require.NoError(t, err)
	require.False(t, reply.Found)
}
