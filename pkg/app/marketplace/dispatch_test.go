package marketplace

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

func signedCall(t *testing.T, signer *crypto.Signer, c *transaction.Call) []byte {
	t.Helper()
	sc, err := transaction.SignCall(signer, c)
	if err != nil {
		t.Fatalf("sign call: %v", err)
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestExecuteRawCreateOrder(t *testing.T) {
	f := setup(t)
	owner, _ := crypto.GenerateKey()
	if err := f.engine.MintItem(coll, 9, owner.Address()); err != nil {
		t.Fatal(err)
	}

	o := f.order(transaction.OrderTypeAsk, 500, 5)
	o.Item = 9
	f.sign(o)
	raw := signedCall(t, owner, &transaction.Call{
		Type:      transaction.CallCreateOrder,
		Order:     transaction.FromOrder(o),
		Execution: transaction.AllowCreation,
		Deadline:  f.now() + 1000,
	})

	rcpt, err := f.engine.ExecuteRaw(raw)
	if err != nil {
		t.Fatalf("ExecuteRaw: %v", err)
	}
	if rcpt.Caller != owner.Address() || rcpt.Trade != nil {
		t.Errorf("receipt = %+v", rcpt)
	}
	ask, found, err := f.engine.Ask(coll, 9)
	if err != nil || !found {
		t.Fatalf("ask: found=%v err=%v", found, err)
	}
	if ask.Seller != owner.Address() {
		t.Errorf("seller = %s", ask.Seller.Hex())
	}

	// same envelope again: the nonce is spent
	if _, err := f.engine.ExecuteRaw(raw); !errors.Is(err, ErrAlreadyUsedNonce) && !errors.Is(err, ErrOrderAlreadyExists) {
		t.Errorf("replay err = %v", err)
	}
}

func TestExecuteRawRejects(t *testing.T) {
	f := setup(t)
	key, _ := crypto.GenerateKey()

	if _, err := f.engine.ExecuteRaw([]byte("{")); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("malformed: err = %v", err)
	}

	raw := signedCall(t, key, &transaction.Call{
		Type:     transaction.CallReleaseEscrow,
		EscrowID: 1,
		Deadline: f.now() + 1000,
	})
	f.clock.Advance(2 * time.Second)
	if _, err := f.engine.ExecuteRaw(raw); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("past deadline: err = %v", err)
	}

	var sc transaction.SignedCall
	if err := json.Unmarshal(signedCall(t, key, &transaction.Call{
		Type:    transaction.CallSetPayoutAddress,
		Account: stranger.Hex(),
	}), &sc); err != nil {
		t.Fatal(err)
	}
	sc.Caller = authority.Hex()
	forged, _ := json.Marshal(sc)
	if _, err := f.engine.ExecuteRaw(forged); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("forged caller: err = %v", err)
	}
	r, err := f.engine.Roles()
	if err != nil {
		t.Fatal(err)
	}
	if r.Payout == nil || *r.Payout != payout {
		t.Errorf("payout changed to %v", r.Payout)
	}
}

func TestExecuteRoleSetterReceipt(t *testing.T) {
	f := setup(t)
	rcpt, err := f.engine.Execute(authority, &transaction.Call{
		Type:    transaction.CallSetPayoutAddress,
		Account: stranger.Hex(),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rcpt.Previous == nil || *rcpt.Previous != payout {
		t.Errorf("previous = %v, want %s", rcpt.Previous, payout.Hex())
	}

	if _, err := f.engine.Execute(stranger, &transaction.Call{
		Type:    transaction.CallSetFeeSigner,
		Account: stranger.Hex(),
	}); !errors.Is(err, ErrNotAuthority) {
		t.Errorf("stranger: err = %v", err)
	}
	if _, err := f.engine.Execute(authority, &transaction.Call{Type: "withdraw"}); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("unknown call: err = %v", err)
	}
}

func TestMetricsCountOutcomes(t *testing.T) {
	f := setup(t)
	reg := prometheus.NewRegistry()
	f.engine.SetMetrics(NewMetrics(reg))

	if _, err := f.engine.CreateOrder(seller, f.order(transaction.OrderTypeAsk, 10000, 3), transaction.AllowCreation); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CreateOrder(buyer, f.order(transaction.OrderTypeBid, 10000, 2), transaction.AllowCreation); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.CancelOrder(stranger, transaction.OrderTypeAsk, coll, item, nil); err == nil {
		t.Fatal("expected cancel of a missing ask to fail")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]*dto.MetricFamily)
	for _, mf := range families {
		got[mf.GetName()] = mf
	}

	if v := got["nftmarket_orders_executed_total"].GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("executed = %v, want 1", v)
	}
	if v := got["nftmarket_traded_volume"].GetMetric()[0].GetCounter().GetValue(); v != 10000 {
		t.Errorf("volume = %v, want 10000", v)
	}
	failed := got["nftmarket_calls_failed_total"].GetMetric()
	if len(failed) != 1 {
		t.Fatalf("failed series = %d, want 1", len(failed))
	}
	labels := map[string]string{}
	for _, l := range failed[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["call"] != "cancel_order" || labels["reason"] != "order_not_found" {
		t.Errorf("failed labels = %v", labels)
	}
}
