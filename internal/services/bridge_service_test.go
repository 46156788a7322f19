package services

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quote" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", got)
		}
		var req QuoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.SourceAsset != "SOL" || req.Amount != 95_000_000 {
			t.Errorf("bad quote request: %+v", req)
		}
		json.NewEncoder(w).Encode(Quote{
			DepositAddress: "hop1-deposit-addr",
			AmountOut:      123_456,
		})
	}))
	defer srv.Close()

	b := NewBridgeClient(srv.URL, "test-key")
	q, err := b.RequestQuote(context.Background(), QuoteRequest{
		SourceAsset:      "SOL",
		DestinationAsset: "ZEC",
		Amount:           95_000_000,
		RefundAddress:    "refund",
		RecipientAddress: "recipient",
	})
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if q.DepositAddress != "hop1-deposit-addr" || q.AmountOut != 123_456 {
		t.Fatalf("bad quote: %+v", q)
	}
}

func TestRequestQuoteRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"amount too small"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBridgeClient(srv.URL, "")
	_, err := b.RequestQuote(context.Background(), QuoteRequest{SourceAsset: "SOL"})
	if !errors.Is(err, ErrQuoteRejected) {
		t.Fatalf("want ErrQuoteRejected, got %v", err)
	}
}

func TestRequestQuoteTransportFailure(t *testing.T) {
	// HTTP 层失败要和业务拒绝一样对待：没有任何副作用发生
	srv := httptest.NewServer(nil)
	srv.Close() // 直接关掉，制造连接失败

	b := NewBridgeClient(srv.URL, "")
	_, err := b.RequestQuote(context.Background(), QuoteRequest{SourceAsset: "SOL"})
	if !errors.Is(err, ErrQuoteRejected) {
		t.Fatalf("want ErrQuoteRejected, got %v", err)
	}
}

func TestPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("depositAddress"); got != "addr-x" {
			t.Errorf("bad depositAddress %q", got)
		}
		json.NewEncoder(w).Encode(SwapStatus{
			Status:            SwapStatusSuccess,
			AmountOut:         99,
			DestinationTxHash: "dest-hash",
		})
	}))
	defer srv.Close()

	b := NewBridgeClient(srv.URL, "")
	st, err := b.PollStatus(context.Background(), "addr-x", "")
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if st.Status != SwapStatusSuccess || st.DestinationTxHash != "dest-hash" {
		t.Fatalf("bad status: %+v", st)
	}
}

func TestTransferIntermediateSignature(t *testing.T) {
	gw, err := NewIntermediateWallet()
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			From      string `json:"from"`
			To        string `json:"to"`
			Amount    uint64 `json:"amount"`
			Timestamp int64  `json:"timestamp"`
			Signature string `json:"signature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		// 地址就是公钥 hex，服务端可以直接验签
		pub, err := hex.DecodeString(body.From)
		if err != nil {
			t.Fatal(err)
		}
		sig, err := base64.StdEncoding.DecodeString(body.Signature)
		if err != nil {
			t.Fatal(err)
		}
		payload := fmt.Sprintf("%s|%s|%d|%d", body.From, body.To, body.Amount, body.Timestamp)
		if !ed25519.Verify(ed25519.PublicKey(pub), []byte(payload), sig) {
			t.Error("signature does not verify")
		}
		json.NewEncoder(w).Encode(map[string]string{"txHash": "intermediate-hash"})
	}))
	defer srv.Close()

	b := NewBridgeClient(srv.URL, "")
	hash, err := b.TransferIntermediate(context.Background(), gw.PrivateKey, gw.Address, "hop2-addr", 55_000)
	if err != nil {
		t.Fatalf("TransferIntermediate: %v", err)
	}
	if hash != "intermediate-hash" {
		t.Fatalf("bad hash %q", hash)
	}
}

func TestNewIntermediateWallet(t *testing.T) {
	gw, err := NewIntermediateWallet()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := hex.DecodeString(gw.Address)
	if err != nil {
		t.Fatalf("address is not hex: %v", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		t.Fatalf("address length %d", len(pub))
	}
	if len(gw.PrivateKey) != ed25519.PrivateKeySize {
		t.Fatalf("private key length %d", len(gw.PrivateKey))
	}
}
