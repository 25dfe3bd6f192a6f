package ledger

import "encoding/json"

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the ledger-side error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Well-known ledger error codes. Rate limiting additionally arrives as HTTP
// 429 from gateway layers.
const (
	codeRateLimited     = -32005
	codeStaleReference  = -32008 // reference data (e.g. recent block hash) expired
	codeInvalidSig      = -32003
	codeInsufficientBal = -32002
)

// submitOptions carries the commitment and fee options for sendOperation.
type submitOptions struct {
	Commitment string `json:"commitment"`
	Fee        uint64 `json:"fee"`
}

// statusValue is one entry of the getOperationStatuses result.
type statusValue struct {
	Status        string `json:"status"` // "pending", "confirmed", "finalized", "failed"
	Confirmations int    `json:"confirmations"`
	Slot          uint64 `json:"slot"`
	Err           string `json:"err,omitempty"`
}

// statusResult wraps the nullable per-id status entries.
type statusResult struct {
	Value []*statusValue `json:"value"`
}

// feeSampleValue is one entry of the getRecentFeeSamples result.
type feeSampleValue struct {
	Slot uint64 `json:"slot"`
	Fee  uint64 `json:"fee"`
}

// balanceResult wraps the getTokenBalance result.
type balanceResult struct {
	Value struct {
		Amount string `json:"amount"` // base units as decimal string
	} `json:"value"`
}
