package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ledgerStub(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("marshal result: %v", err)
			}
			resp["result"] = json.RawMessage(raw)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestLedgerClientTransferTokens(t *testing.T) {
	srv := ledgerStub(t, func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		if method != "ledger_transferTokens" {
			t.Fatalf("unexpected method %s", method)
		}
		var payload struct {
			From   string `json:"from"`
			To     string `json:"to"`
			Amount int64  `json:"amount"`
			Memo   string `json:"memo"`
		}
		if err := json.Unmarshal(params[0], &payload); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		if payload.From != "0.0.1" || payload.To != "0.0.2" || payload.Amount != 4 {
			t.Fatalf("unexpected transfer payload: %+v", payload)
		}
		return transferResult{TransactionID: "0.0.1@1700000000.000000001"}, nil
	})
	defer srv.Close()

	client := NewLedgerClient(srv.URL, "test-token", "0.0.1", time.Second)
	txID, err := client.TransferTokens(context.Background(), "0.0.1", "0.0.2", 4, "Rating reward")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if txID != "0.0.1@1700000000.000000001" {
		t.Fatalf("unexpected tx id %q", txID)
	}
}

func TestLedgerClientMintBadge(t *testing.T) {
	srv := ledgerStub(t, func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		if method != "ledger_mintBadge" {
			t.Fatalf("unexpected method %s", method)
		}
		return MintResult{Serial: 12, TransactionID: "tx-mint"}, nil
	})
	defer srv.Close()

	client := NewLedgerClient(srv.URL, "test-token", "0.0.1", time.Second)
	result, err := client.MintAndTransferBadge(context.Background(), "0.0.2", BadgeMetadata{Badge: "first_watch", Name: "First Watch"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if result.Serial != 12 || result.TransactionID != "tx-mint" {
		t.Fatalf("unexpected mint result %+v", result)
	}
}

func TestLedgerClientAssociationFailure(t *testing.T) {
	srv := ledgerStub(t, func(string, []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return nil, &jsonRPCErrorObj{Code: codeAssociationFailed, Message: "TOKEN_NOT_ASSOCIATED"}
	})
	defer srv.Close()

	client := NewLedgerClient(srv.URL, "test-token", "0.0.1", time.Second)
	_, err := client.MintAndTransferBadge(context.Background(), "0.0.2", BadgeMetadata{Badge: "vip_member"})
	if !errors.Is(err, ErrAssociationFailed) {
		t.Fatalf("expected ErrAssociationFailed, got %v", err)
	}
}

func TestLedgerClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewLedgerClient(srv.URL, "test-token", "0.0.1", 50*time.Millisecond)
	_, err := client.TransferTokens(context.Background(), "0.0.1", "0.0.2", 1, "")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestLedgerClientSubmitEvent(t *testing.T) {
	srv := ledgerStub(t, func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		if method != "ledger_submitEvent" {
			t.Fatalf("unexpected method %s", method)
		}
		var payload struct {
			Topic   string          `json:"topic"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(params[0], &payload); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		if payload.Topic != "rewards-events" || len(payload.Message) == 0 {
			t.Fatalf("unexpected event payload: %+v", payload)
		}
		return EventReceipt{SequenceNumber: 7, TransactionID: "tx-event"}, nil
	})
	defer srv.Close()

	client := NewLedgerClient(srv.URL, "test-token", "0.0.1", time.Second)
	receipt, err := client.SubmitEvent(context.Background(), "rewards-events", []byte(`{"type":"rating"}`))
	if err != nil {
		t.Fatalf("submit event: %v", err)
	}
	if receipt.SequenceNumber != 7 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}
