package main

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/rpc/json2"

	"github.com/hanzoai/compute/common"
)

// ledgerClient is a thin JSON-RPC 2.0 client for mining.NewHTTPHandler's
// /rpc endpoint, the client-side counterpart to the json2 codec rpc.go
// registers server-side. Grounded on the teacher's client package pattern
// of a single HTTP-backed RPC caller shared by every CLI subcommand.
type ledgerClient struct {
	url string
	hc  *http.Client
}

func newLedgerClient(url string) *ledgerClient {
	return &ledgerClient{url: url, hc: &http.Client{Timeout: 15 * time.Second}}
}

// call invokes method (e.g. "ledger.GetHeight") with args, decoding the
// result into reply. A JSON-RPC error response is surfaced as a
// *common.Error of KindRpcError; a transport failure as KindNetwork.
func (c *ledgerClient) call(method string, args, reply interface{}) error {
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		return common.Wrap(err, common.KindSerializationError, "encode rpc request %s", method)
	}
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return common.Wrap(err, common.KindNetwork, "build rpc request %s", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return common.Wrap(err, common.KindNetwork, "call %s", method)
	}
	defer resp.Body.Close()

	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		return common.Wrap(err, common.KindRpcError, "decode rpc response for %s", method)
	}
	return nil
}
