// Package ledger implements domain.LedgerClient over the token ledger's
// JSON-RPC HTTP endpoint.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// Client is the JSON-RPC client for the token ledger.
type Client struct {
	rpcURL     string
	mint       string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a ledger Client for the given RPC endpoint. mint scopes
// balance queries to the traded token.
func NewClient(rpcURL, mint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		rpcURL: rpcURL,
		mint:   mint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit sends a signed operation via sendOperation and returns the
// ledger-assigned identifier.
func (c *Client) Submit(ctx context.Context, op domain.SignedOperation) (string, error) {
	payload := base64.StdEncoding.EncodeToString(append(op.Signature, op.Payload...))
	opts := submitOptions{
		Commitment: string(op.Commitment),
		Fee:        op.Fee,
	}

	raw, err := c.call(ctx, "sendOperation", []any{payload, opts})
	if err != nil {
		return "", fmt.Errorf("ledger: submit: %w", err)
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("ledger: decode submit result: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("ledger: submit returned empty operation id")
	}
	return id, nil
}

// Status queries one operation's finality state via getOperationStatuses.
// A null entry means the ledger has not seen the id yet; the reply reports
// Found == false and the caller keeps polling.
func (c *Client) Status(ctx context.Context, operationID string) (domain.StatusReply, error) {
	raw, err := c.call(ctx, "getOperationStatuses", []any{[]string{operationID}})
	if err != nil {
		return domain.StatusReply{}, fmt.Errorf("ledger: status %s: %w", operationID, err)
	}

	var res statusResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.StatusReply{}, fmt.Errorf("ledger: decode status result: %w", err)
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return domain.StatusReply{Found: false}, nil
	}

	v := res.Value[0]
	reply := domain.StatusReply{
		Found:         true,
		Confirmations: v.Confirmations,
		Slot:          v.Slot,
		Err:           v.Err,
	}
	switch v.Status {
	case "confirmed":
		reply.Status = domain.StatusConfirmed
	case "finalized":
		reply.Status = domain.StatusFinalized
	case "failed":
		reply.Status = domain.StatusFailed
	default:
		reply.Status = domain.StatusPending
	}
	// An explicit error field always wins over the reported phase.
	if v.Err != "" {
		reply.Status = domain.StatusFailed
	}
	return reply, nil
}

// RecentFeeSamples returns the latest network fee observations via
// getRecentFeeSamples, newest last.
func (c *Client) RecentFeeSamples(ctx context.Context) ([]domain.FeeSample, error) {
	raw, err := c.call(ctx, "getRecentFeeSamples", nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: fee samples: %w", err)
	}

	var values []feeSampleValue
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("ledger: decode fee samples: %w", err)
	}

	now := time.Now().UTC()
	samples := make([]domain.FeeSample, 0, len(values))
	for _, v := range values {
		samples = append(samples, domain.FeeSample{Slot: now, Fee: v.Fee})
	}
	return samples, nil
}

// Balance returns an address's token balance in base units via
// getTokenBalance.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "getTokenBalance", []any{address, c.mint})
	if err != nil {
		return 0, fmt.Errorf("ledger: balance %s: %w", address, err)
	}

	var res balanceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("ledger: decode balance result: %w", err)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger: parse balance %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

// call performs one JSON-RPC round trip and maps ledger error codes onto the
// domain error taxonomy so the dispatcher can tell transient from terminal.
func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", method, domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		if mapped := mapRPCError(rpcResp.Error.Code); mapped != nil {
			return nil, fmt.Errorf("%s: rpc %d %s: %w", method, rpcResp.Error.Code, rpcResp.Error.Message, mapped)
		}
		return nil, fmt.Errorf("%s: rpc %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// mapRPCError folds well-known ledger error codes into the domain taxonomy.
// Unknown codes return nil and are surfaced verbatim.
func mapRPCError(code int) error {
	switch code {
	case codeRateLimited:
		return domain.ErrRateLimited
	case codeStaleReference:
		return domain.ErrStaleReference
	case codeInvalidSig:
		return domain.ErrInvalidSignature
	case codeInsufficientBal:
		return domain.ErrInsufficientBalance
	default:
		return nil
	}
}

// Compile-time interface check.
var _ domain.LedgerClient = (*Client)(nil)
