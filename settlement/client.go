package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// LedgerClient implements Gateway against the ledger service's JSON-RPC
// endpoint. Signing and receipt polling happen on the far side of this
// boundary.
type LedgerClient struct {
	baseURL   string
	authToken string
	treasury  string
	http      *http.Client
	nextID    atomic.Int64
}

// NewLedgerClient constructs a client for the given endpoint. treasury is
// the operator account debited for reward transfers.
func NewLedgerClient(baseURL, authToken, treasury string, timeout time.Duration) *LedgerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LedgerClient{
		baseURL:   strings.TrimSpace(baseURL),
		authToken: strings.TrimSpace(authToken),
		treasury:  strings.TrimSpace(treasury),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Treasury returns the operator account used as the transfer source.
func (c *LedgerClient) Treasury() string { return c.treasury }

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transferResult struct {
	TransactionID string `json:"transaction_id"`
}

// TransferTokens submits a token transfer and returns the transaction id.
func (c *LedgerClient) TransferTokens(ctx context.Context, from, to string, amount int64, memo string) (string, error) {
	params := map[string]interface{}{
		"from":   from,
		"to":     to,
		"amount": amount,
	}
	if memo = strings.TrimSpace(memo); memo != "" {
		params["memo"] = memo
	}
	var result transferResult
	if err := c.call(ctx, "ledger_transferTokens", []interface{}{params}, &result); err != nil {
		return "", err
	}
	return result.TransactionID, nil
}

// MintAndTransferBadge mints the badge NFT for the account. The ledger
// service associates the collection with the recipient before the mint and
// reports association problems with a dedicated error code.
func (c *LedgerClient) MintAndTransferBadge(ctx context.Context, accountID string, meta BadgeMetadata) (MintResult, error) {
	params := map[string]interface{}{
		"account": accountID,
		"badge":   meta.Badge,
		"name":    meta.Name,
	}
	var result MintResult
	if err := c.call(ctx, "ledger_mintBadge", []interface{}{params}, &result); err != nil {
		return MintResult{}, err
	}
	return result, nil
}

// SubmitEvent appends the payload to the ledger's event-log topic.
func (c *LedgerClient) SubmitEvent(ctx context.Context, topic string, payload []byte) (EventReceipt, error) {
	params := map[string]interface{}{
		"topic":   topic,
		"message": json.RawMessage(payload),
	}
	var result EventReceipt
	if err := c.call(ctx, "ledger_submitEvent", []interface{}{params}, &result); err != nil {
		return EventReceipt{}, err
	}
	return result, nil
}

// ledger error codes surfaced as sentinel errors
const (
	codeAssociationFailed = -33001
)

func (c *LedgerClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return ErrTimeout
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == codeAssociationFailed {
			return fmt.Errorf("%w: %s", ErrAssociationFailed, rpcResp.Error.Message)
		}
		return fmt.Errorf("ledger rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("ledger rpc %s returned empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}
