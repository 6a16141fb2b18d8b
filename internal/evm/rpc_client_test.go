package evm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func rpcServer(t *testing.T, handle func(req rpcRequest) map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := handle(req)
		resp["jsonrpc"] = "2.0"
		resp["id"] = req.ID
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPClient_CallContract(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	server := rpcServer(t, func(req rpcRequest) map[string]interface{} {
		if req.Method != "eth_call" {
			t.Errorf("expected method eth_call, got %s", req.Method)
		}
		if len(req.Params) != 2 || req.Params[1] != "latest" {
			t.Errorf("expected [callObject, latest], got %v", req.Params)
		}
		obj := req.Params[0].(map[string]interface{})
		if obj["data"] != "0x18160ddd" {
			t.Errorf("expected data 0x18160ddd, got %v", obj["data"])
		}
		return map[string]interface{}{"result": "0x000000000000000000000000000000000000000000000000000000000000002a"}
	})

	client := NewHTTPClient(server.URL)
	out, err := client.CallContract(context.Background(), CallMsg{To: to, Data: []byte{0x18, 0x16, 0x0d, 0xdd}})
	if err != nil {
		t.Fatalf("CallContract: %v", err)
	}
	if len(out) != 32 || out[31] != 0x2a {
		t.Errorf("unexpected return data %x", out)
	}
}

func TestHTTPClient_RevertNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := rpcServer(t, func(req rpcRequest) map[string]interface{} {
		calls.Add(1)
		return map[string]interface{}{
			"error": map[string]interface{}{
				"code":    3,
				"message": "execution reverted",
				"data":    "0x7e273289000000000000000000000000000000000000000000000000000000000000000c",
			},
		}
	})

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.CallContract(context.Background(), CallMsg{})
	if err == nil {
		t.Fatal("expected error")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if !IsRevert(err) {
		t.Error("expected revert classification")
	}
	if data := rpcErr.RevertData(); len(data) != 36 {
		t.Errorf("expected 36 bytes of revert data, got %d", len(data))
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0x539"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond), WithMaxRetries(3))
	id, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if id != 1337 {
		t.Errorf("expected chain id 1337, got %d", id)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_MaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond), WithMaxRetries(2))
	_, err := client.SuggestGasPrice(context.Background())
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
}

func TestHTTPClient_ReceiptNotMined(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) map[string]interface{} {
		return map[string]interface{}{"result": nil}
	})

	client := NewHTTPClient(server.URL)
	receipt, err := client.TransactionReceipt(context.Background(), common.HexToHash("0x01"))
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}
	if receipt != nil {
		t.Errorf("expected nil receipt, got %+v", receipt)
	}
}

func TestHTTPClient_Receipt(t *testing.T) {
	hash := common.HexToHash("0xabc")
	server := rpcServer(t, func(req rpcRequest) map[string]interface{} {
		return map[string]interface{}{"result": map[string]interface{}{
			"transactionHash": hash.Hex(),
			"blockNumber":     "0x10",
			"status":          "0x1",
			"gasUsed":         "0x5208",
		}}
	})

	client := NewHTTPClient(server.URL)
	receipt, err := client.TransactionReceipt(context.Background(), hash)
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}
	if !receipt.Succeeded() {
		t.Error("expected successful receipt")
	}
	if receipt.BlockNumber != 16 || receipt.GasUsed != 21000 {
		t.Errorf("unexpected receipt %+v", receipt)
	}
}

func TestHTTPClient_ObserverCalled(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) map[string]interface{} {
		return map[string]interface{}{"result": "0x7"}
	})

	var observed string
	client := NewHTTPClient(server.URL, WithObserver(func(method string, d time.Duration, err error) {
		observed = method
	}))
	nonce, err := client.PendingNonceAt(context.Background(), common.Address{})
	if err != nil {
		t.Fatalf("PendingNonceAt: %v", err)
	}
	if nonce != 7 {
		t.Errorf("expected nonce 7, got %d", nonce)
	}
	if observed != "eth_getTransactionCount" {
		t.Errorf("expected observer for eth_getTransactionCount, got %q", observed)
	}
}
