package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uhyunpark/nftmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/app/marketplace"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/storage"
	"github.com/uhyunpark/nftmarket/pkg/util"
	"go.uber.org/zap"
)

type testNode struct {
	t         *testing.T
	srv       *httptest.Server
	api       *Server
	engine    *marketplace.Engine
	clock     *util.ManualClock
	encoder   *transaction.EIP712Encoder
	root      *crypto.Signer
	authority *crypto.Signer
	feeSigner *crypto.Signer
	seller    *crypto.Signer
	buyer     *crypto.Signer
	nonce     int
}

func key(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return s
}

func newTestNode(t *testing.T, devMode bool) *testNode {
	t.Helper()

	store, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	n := &testNode{
		t:         t,
		clock:     util.NewManualClock(time.UnixMilli(1_700_000_000_000)),
		encoder:   transaction.NewEIP712Encoder(crypto.EIP712Domain{Name: "NFTMarket", Version: "1", ChainID: big.NewInt(1337)}),
		root:      key(t),
		authority: key(t),
		feeSigner: key(t),
		seller:    key(t),
		buyer:     key(t),
	}

	n.engine = marketplace.NewEngine(
		marketplace.Config{MinOrderDuration: 1000, Root: n.root.Address()},
		store,
		marketplace.StateBackend{ExistentialDeposit: uint256.NewInt(1)},
		n.encoder,
		crypto.EthVerifier{},
		n.clock,
	)
	reg := prometheus.NewRegistry()
	n.engine.SetMetrics(marketplace.NewMetrics(reg))

	steps := []func() error{
		func() error { _, err := n.engine.ForceSetAuthority(n.root.Address(), n.authority.Address()); return err },
		func() error {
			_, err := n.engine.SetFeeSignerAddress(n.authority.Address(), n.feeSigner.Address())
			return err
		},
		func() error { _, err := n.engine.SetPayoutAddress(n.authority.Address(), n.authority.Address()); return err },
		func() error { return n.engine.MintItem(1, 7, n.seller.Address()) },
		func() error { return n.engine.Fund(n.buyer.Address(), uint256.NewInt(20000)) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("setup step %d: %v", i, err)
		}
	}

	pool := mempool.New(16)
	pool.RegisterMetrics(reg)
	n.api = NewServer(n.engine, pool, zap.NewNop(), Options{
		DevMode:       devMode,
		Gatherer:      reg,
		SubmitTimeout: 5 * time.Second,
		Clock:         n.clock,
	})
	n.engine.SetPublisher(n.api.Hub())

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx, func(raw []byte) (any, error) { return n.engine.ExecuteRaw(raw) })
	go n.api.Hub().Run(ctx)
	n.srv = httptest.NewServer(n.api.Handler())

	t.Cleanup(func() {
		n.srv.Close()
		cancel()
		store.Close()
	})
	return n
}

// order returns a create_order payload signed by the fee signer
func (n *testNode) order(side transaction.OrderType, price, fee uint64) *transaction.OrderPayload {
	n.t.Helper()
	n.nonce++
	o := &transaction.Order{
		Type:       side,
		Collection: 1,
		Item:       7,
		Price:      uint256.NewInt(price),
		Fee:        uint256.NewInt(fee),
		ExpiresAt:  util.Moment(n.clock.Now()) + 3_600_000,
		Nonce:      []byte(fmt.Sprintf("api-%d", n.nonce)),
	}
	digest, err := n.encoder.Encode(o.Message())
	if err != nil {
		n.t.Fatalf("encode: %v", err)
	}
	if o.Signature, err = n.feeSigner.Sign(digest); err != nil {
		n.t.Fatalf("sign: %v", err)
	}
	return transaction.FromOrder(o)
}

func (n *testNode) post(path string, body []byte) (int, []byte) {
	n.t.Helper()
	resp, err := http.Post(n.srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		n.t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func (n *testNode) call(signer *crypto.Signer, c *transaction.Call) (int, []byte) {
	n.t.Helper()
	sc, err := transaction.SignCall(signer, c)
	if err != nil {
		n.t.Fatalf("sign call: %v", err)
	}
	raw, _ := json.Marshal(sc)
	return n.post("/api/v1/calls", raw)
}

func (n *testNode) get(path string, v any) int {
	n.t.Helper()
	resp, err := http.Get(n.srv.URL + path)
	if err != nil {
		n.t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			n.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error %q: %v", body, err)
	}
	return e
}

func TestHealth(t *testing.T) {
	n := newTestNode(t, false)

	var status NodeStatus
	if code := n.get("/health", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Status != "ok" || status.DevMode {
		t.Errorf("health = %+v", status)
	}
}

func TestTradeOverHTTP(t *testing.T) {
	n := newTestNode(t, false)

	code, body := n.call(n.seller, &transaction.Call{
		Type:      transaction.CallCreateOrder,
		Order:     n.order(transaction.OrderTypeAsk, 10000, 2),
		Execution: transaction.AllowCreation,
	})
	if code != http.StatusOK {
		t.Fatalf("ask: %d %s", code, body)
	}
	var rcpt marketplace.Receipt
	if err := json.Unmarshal(body, &rcpt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if rcpt.Trade != nil || rcpt.Caller != n.seller.Address() {
		t.Errorf("ask receipt = %+v", rcpt)
	}

	var item ItemInfo
	if code := n.get("/api/v1/items/1/7", &item); code != http.StatusOK {
		t.Fatalf("item: %d", code)
	}
	if !item.Locked || item.Ask == nil || item.Ask.Price.Uint64() != 10000 {
		t.Errorf("item with resting ask = %+v", item)
	}

	code, body = n.call(n.buyer, &transaction.Call{
		Type:      transaction.CallCreateOrder,
		Order:     n.order(transaction.OrderTypeBid, 10000, 3),
		Execution: transaction.Force,
	})
	if code != http.StatusOK {
		t.Fatalf("bid: %d %s", code, body)
	}
	rcpt = marketplace.Receipt{}
	if err := json.Unmarshal(body, &rcpt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if rcpt.Trade == nil || rcpt.Trade.SellerPay.Uint64() != 9998 || rcpt.Trade.MarketplacePay.Uint64() != 5 {
		t.Fatalf("bid receipt trade = %+v", rcpt.Trade)
	}

	var acc AccountInfo
	n.get("/api/v1/accounts/"+n.seller.Address().Hex(), &acc)
	if acc.Free.Uint64() != 9998 {
		t.Errorf("seller free = %s, want 9998", acc.Free)
	}

	var trades []*marketplace.Trade
	n.get("/api/v1/trades?limit=5", &trades)
	if len(trades) != 1 || trades[0].Buyer != n.buyer.Address() {
		t.Errorf("trades = %+v", trades)
	}
}

func TestCallErrors(t *testing.T) {
	n := newTestNode(t, false)

	bid := n.order(transaction.OrderTypeBid, 100, 0)
	create := &transaction.Call{Type: transaction.CallCreateOrder, Order: bid, Execution: transaction.AllowCreation}
	if code, body := n.call(n.buyer, create); code != http.StatusOK {
		t.Fatalf("bid: %d %s", code, body)
	}

	tests := []struct {
		name   string
		send   func() (int, []byte)
		status int
		reason string
	}{
		{
			name:   "replayed nonce",
			send:   func() (int, []byte) { return n.call(n.buyer, create) },
			status: http.StatusConflict,
			reason: "already_used_nonce",
		},
		{
			name: "setter by non-authority",
			send: func() (int, []byte) {
				return n.call(n.buyer, &transaction.Call{Type: transaction.CallSetPayoutAddress, Account: n.buyer.Address().Hex()})
			},
			status: http.StatusForbidden,
			reason: "not_authority",
		},
		{
			name: "cancel by stranger",
			send: func() (int, []byte) {
				return n.call(n.seller, &transaction.Call{
					Type:   transaction.CallCancelOrder,
					Cancel: &transaction.CancelPayload{Type: transaction.OrderTypeBid, Collection: 1, Item: 7, Price: "100"},
				})
			},
			status: http.StatusForbidden,
			reason: "not_order_creator_or_authority",
		},
		{
			name: "cancel missing ask",
			send: func() (int, []byte) {
				return n.call(n.seller, &transaction.Call{
					Type:   transaction.CallCancelOrder,
					Cancel: &transaction.CancelPayload{Type: transaction.OrderTypeAsk, Collection: 1, Item: 7},
				})
			},
			status: http.StatusNotFound,
			reason: "order_not_found",
		},
		{
			name: "forged caller",
			send: func() (int, []byte) {
				sc, _ := transaction.SignCall(n.buyer, create)
				sc.Caller = n.seller.Address().Hex()
				raw, _ := json.Marshal(sc)
				return n.post("/api/v1/calls", raw)
			},
			status: http.StatusBadRequest,
			reason: "invalid_order",
		},
		{
			name:   "not json",
			send:   func() (int, []byte) { return n.post("/api/v1/calls", []byte("O:GTC:1")) },
			status: http.StatusBadRequest,
			reason: "invalid_order",
		},
		{
			name: "past deadline",
			send: func() (int, []byte) {
				return n.call(n.authority, &transaction.Call{
					Type:     transaction.CallSetPayoutAddress,
					Account:  n.seller.Address().Hex(),
					Deadline: util.Moment(n.clock.Now()) - 1,
				})
			},
			status: http.StatusBadRequest,
			reason: "invalid_order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := tt.send()
			if code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", code, tt.status, body)
			}
			if e := decodeError(t, body); e.Error != tt.reason {
				t.Errorf("reason = %q, want %q (%s)", e.Error, tt.reason, e.Message)
			}
		})
	}
}

func TestQueryErrors(t *testing.T) {
	n := newTestNode(t, false)

	var e ErrorResponse
	if code := n.get("/api/v1/items/1/99", &e); code != http.StatusNotFound || e.Error != "item_not_found" {
		t.Errorf("unknown item: %d %+v", code, e)
	}
	if code := n.get("/api/v1/items/x/7", &e); code != http.StatusBadRequest {
		t.Errorf("bad collection: %d", code)
	}
	if code := n.get("/api/v1/accounts/nope", &e); code != http.StatusBadRequest {
		t.Errorf("bad address: %d", code)
	}
	if code := n.get("/api/v1/trades?limit=-1", &e); code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", code)
	}
}

func TestDevEndpoints(t *testing.T) {
	off := newTestNode(t, false)
	if code, _ := off.post("/api/v1/dev/mint", []byte(`{}`)); code != http.StatusNotFound {
		t.Errorf("dev mint without dev mode: %d", code)
	}

	n := newTestNode(t, true)
	code, body := n.post("/api/v1/dev/mint", []byte(fmt.Sprintf(`{"collection":2,"item":1,"owner":%q}`, n.buyer.Address().Hex())))
	if code != http.StatusOK {
		t.Fatalf("mint: %d %s", code, body)
	}
	var item ItemInfo
	if code := n.get("/api/v1/items/2/1", &item); code != http.StatusOK || item.Owner != n.buyer.Address().Hex() {
		t.Errorf("minted item: %d %+v", code, item)
	}

	code, body = n.post("/api/v1/dev/deposit", []byte(fmt.Sprintf(`{"address":%q,"amount":"500"}`, n.seller.Address().Hex())))
	if code != http.StatusOK {
		t.Fatalf("deposit: %d %s", code, body)
	}
	var acc AccountInfo
	if err := json.Unmarshal(body, &acc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acc.Free.Uint64() != 500 {
		t.Errorf("deposit balance = %s", acc.Free)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	n := newTestNode(t, false)
	n.call(n.seller, &transaction.Call{
		Type:      transaction.CallCreateOrder,
		Order:     n.order(transaction.OrderTypeAsk, 10, 0),
		Execution: transaction.AllowCreation,
	})

	resp, err := http.Get(n.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`nftmarket_orders_created_total{side="ask"} 1`,
		`nftmarket_mempool_admitted_total{class="order"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWebSocketFeed(t *testing.T) {
	n := newTestNode(t, false)

	url := "ws" + strings.TrimPrefix(n.srv.URL, "http") + "/ws?channels=item:1:7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for n.api.Hub().Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if code, body := n.call(n.seller, &transaction.Call{
		Type:      transaction.CallCreateOrder,
		Order:     n.order(transaction.OrderTypeAsk, 10, 0),
		Execution: transaction.AllowCreation,
	}); code != http.StatusOK {
		t.Fatalf("ask: %d %s", code, body)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(marketplace.EventOrderCreated) || msg.Channel != "item:1:7" {
		t.Errorf("message = %+v", msg)
	}
}
