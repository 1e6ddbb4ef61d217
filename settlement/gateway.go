// Package settlement defines the contract the coordination core holds
// against the external value-transfer ledger. The ledger itself (account
// keys, transaction signing, consensus) lives in a separate service; this
// package only carries instructions across the boundary and reports tagged
// outcomes back.
package settlement

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAssociationFailed reports that the badge collection could not be
	// associated with the recipient account. The mint is aborted; this is
	// a gateway failure, not a core failure.
	ErrAssociationFailed = errors.New("settlement: token association failed")
	// ErrTimeout marks a gateway call that exceeded its deadline. The
	// caller treats it like any other gateway failure.
	ErrTimeout = errors.New("settlement: ledger call timed out")
)

// BadgeMetadata identifies the NFT to mint for an achievement.
type BadgeMetadata struct {
	Badge string `json:"badge"`
	Name  string `json:"name"`
}

// MintResult reports a completed badge mint and transfer.
type MintResult struct {
	Serial        int64  `json:"serial"`
	TransactionID string `json:"transaction_id"`
}

// EventReceipt reports an accepted event-log submission.
type EventReceipt struct {
	SequenceNumber int64  `json:"sequence_number"`
	TransactionID  string `json:"transaction_id"`
}

// Gateway executes settlement instructions on the distributed ledger. All
// calls may block for consensus latency and may fail independently;
// failures surface as errors, never silently.
type Gateway interface {
	// TransferTokens moves amount tokens between accounts and returns the
	// ledger transaction id.
	TransferTokens(ctx context.Context, from, to string, amount int64, memo string) (string, error)
	// MintAndTransferBadge mints the badge NFT and transfers it to the
	// account. The gateway ensures token association for the recipient
	// first; association failure aborts the mint.
	MintAndTransferBadge(ctx context.Context, accountID string, meta BadgeMetadata) (MintResult, error)
	// SubmitEvent appends a payload to the external append-only event log.
	SubmitEvent(ctx context.Context, topic string, payload []byte) (EventReceipt, error)
}

// FuncGateway adapts callback functions to the Gateway interface. It is
// the standard test double; unset callbacks succeed with zero values.
type FuncGateway struct {
	TransferFunc func(ctx context.Context, from, to string, amount int64, memo string) (string, error)
	MintFunc     func(ctx context.Context, accountID string, meta BadgeMetadata) (MintResult, error)
	EventFunc    func(ctx context.Context, topic string, payload []byte) (EventReceipt, error)
}

// TransferTokens delegates to the configured callback.
func (g FuncGateway) TransferTokens(ctx context.Context, from, to string, amount int64, memo string) (string, error) {
	if g.TransferFunc == nil {
		return "", nil
	}
	return g.TransferFunc(ctx, from, to, amount, memo)
}

// MintAndTransferBadge delegates to the configured callback.
func (g FuncGateway) MintAndTransferBadge(ctx context.Context, accountID string, meta BadgeMetadata) (MintResult, error) {
	if g.MintFunc == nil {
		return MintResult{}, nil
	}
	return g.MintFunc(ctx, accountID, meta)
}

// SubmitEvent delegates to the configured callback.
func (g FuncGateway) SubmitEvent(ctx context.Context, topic string, payload []byte) (EventReceipt, error) {
	if g.EventFunc == nil {
		return EventReceipt{}, nil
	}
	return g.EventFunc(ctx, topic, payload)
}

// WithTimeout derives a context bounded by the gateway call budget.
// Settlement must never hang a state transition indefinitely.
func WithTimeout(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		budget = 10 * time.Second
	}
	return context.WithTimeout(ctx, budget)
}
