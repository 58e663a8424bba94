package marketplace

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/app/core/nft"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/storage"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

var (
	root      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	payout    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	seller    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	buyer     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	agent     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

const (
	start            = int64(1_700_000_000_000) // Unix ms
	minOrderDuration = 1000
	coll             = uint32(1)
	item             = uint32(7)
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// fataler is the part of *testing.T and *rapid.T the fixture needs
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

type fixture struct {
	t         fataler
	store     *storage.Store
	engine    *Engine
	clock     *util.ManualClock
	feeSigner *crypto.Signer
	encoder   *transaction.EIP712Encoder
	events    []Event
	nonce     int
}

type fixtureOpts struct {
	noPayout bool
}

// newFixture builds an engine with roles set, item 1/7 minted to seller and
// 20000 funded to buyer.
func newFixture(t fataler, opts ...fixtureOpts) *fixture {
	t.Helper()
	var o fixtureOpts
	if len(opts) > 0 {
		o = opts[0]
	}

	s, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	feeSigner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	domain := crypto.EIP712Domain{Name: "NFTMarket", Version: "1", ChainID: big.NewInt(1337)}

	f := &fixture{
		t:         t,
		store:     s,
		clock:     util.NewManualClock(time.UnixMilli(start)),
		feeSigner: feeSigner,
		encoder:   transaction.NewEIP712Encoder(domain),
	}
	f.engine = NewEngine(
		Config{MinOrderDuration: minOrderDuration, Root: root},
		s,
		StateBackend{ExistentialDeposit: u(1)},
		f.encoder,
		crypto.EthVerifier{},
		f.clock,
	)
	f.engine.SetPublisher(PublisherFunc(func(ev Event) { f.events = append(f.events, ev) }))

	f.must(f.engine.ForceSetAuthority(root, authority))
	f.must(f.engine.SetFeeSignerAddress(authority, feeSigner.Address()))
	if !o.noPayout {
		f.must(f.engine.SetPayoutAddress(authority, payout))
	}
	f.mustErr(f.engine.MintItem(coll, item, seller))
	f.mustErr(f.engine.Fund(buyer, u(20000)))
	f.events = nil
	return f
}

func (f *fixture) close() { f.store.Close() }

func (f *fixture) must(_ common.Address, err error) {
	f.t.Helper()
	f.mustErr(err)
}

func (f *fixture) mustErr(err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("setup: %v", err)
	}
}

func (f *fixture) now() uint64 { return util.Moment(f.clock.Now()) }

// order builds an order signed by the fee signer, expiring in one hour
func (f *fixture) order(side transaction.OrderType, price, fee uint64) *transaction.Order {
	f.nonce++
	o := &transaction.Order{
		Type:       side,
		Collection: coll,
		Item:       item,
		Price:      u(price),
		Fee:        u(fee),
		ExpiresAt:  f.now() + uint64(time.Hour.Milliseconds()),
		Nonce:      []byte(fmt.Sprintf("nonce-%d", f.nonce)),
	}
	f.sign(o)
	return o
}

func (f *fixture) sign(o *transaction.Order) *transaction.Order {
	f.t.Helper()
	digest, err := f.encoder.Encode(o.Message())
	if err != nil {
		f.t.Fatalf("encode: %v", err)
	}
	o.Signature, err = f.feeSigner.Sign(digest)
	if err != nil {
		f.t.Fatalf("sign: %v", err)
	}
	return o
}

func (f *fixture) account(who common.Address) *account.Account {
	f.t.Helper()
	acc, err := f.engine.Account(who)
	if err != nil {
		f.t.Fatalf("account %s: %v", who.Hex(), err)
	}
	return acc
}

func (f *fixture) free(who common.Address) uint64 {
	f.t.Helper()
	return f.account(who).FreeBalance().Uint64()
}

func (f *fixture) held(reason account.HoldReason, who common.Address) uint64 {
	f.t.Helper()
	return f.account(who).HeldBalance(reason).Uint64()
}

func (f *fixture) nftItem() *nft.Item {
	f.t.Helper()
	it, found, err := f.engine.Item(coll, item)
	if err != nil || !found {
		f.t.Fatalf("item %d/%d: found=%v err=%v", coll, item, found, err)
	}
	return it
}

// dump returns every committed key and value
func (f *fixture) dump() map[string]string {
	f.t.Helper()
	out := make(map[string]string)
	err := f.store.View(func(r storage.Reader) error {
		return r.Scan(nil, func(key, value []byte) error {
			out[string(key)] = string(value)
			return nil
		})
	})
	if err != nil {
		f.t.Fatalf("dump: %v", err)
	}
	return out
}

func (f *fixture) eventTypes() []EventType {
	var types []EventType
	for _, ev := range f.events {
		types = append(types, ev.Type)
	}
	return types
}
