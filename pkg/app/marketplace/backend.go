package marketplace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/nftmarket/pkg/app/core/nft"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

// BidHoldReason tags funds reserved for a resting or matching bid
const BidHoldReason account.HoldReason = "marketplace_bid"

// Ledger is the fungible balance ledger
type Ledger interface {
	Balance(who common.Address) (*uint256.Int, error)
	MinimumBalance() *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int, preserve bool) error
	Hold(reason account.HoldReason, who common.Address, amount *uint256.Int) error
	Release(reason account.HoldReason, who common.Address, amount *uint256.Int, precision account.Precision) (*uint256.Int, error)
}

// ItemRegistry tracks item ownership and transferability
type ItemRegistry interface {
	Owner(collection, item uint32) (common.Address, bool, error)
	Transfer(collection, item uint32, to common.Address) error
	DisableTransfer(collection, item uint32) error
	EnableTransfer(collection, item uint32) error
	CanTransfer(collection, item uint32) (bool, error)
}

// Escrow routes seller proceeds through an agent
type Escrow interface {
	MakeDeposit(depositor, destination common.Address, amount *uint256.Int, agent common.Address) error
	Release(caller common.Address, id uint64) (*escrow.Deposit, error)
}

// Collaborators are bound to the staged state of a single call
type Collaborators struct {
	Ledger   Ledger
	Registry ItemRegistry
	Escrow   Escrow
}

// Backend binds collaborators to a call's staged state
type Backend interface {
	Bind(rw storage.ReadWriter) Collaborators
}

// StateBackend keeps ledger, registry and escrow in the same pebble store
// as the order book, so one Update covers all of them.
type StateBackend struct {
	ExistentialDeposit *uint256.Int
}

func (b StateBackend) Bind(rw storage.ReadWriter) Collaborators {
	ledger := account.NewLedger(rw, b.ExistentialDeposit)
	return Collaborators{
		Ledger:   ledger,
		Registry: nft.NewRegistry(rw),
		Escrow:   escrow.New(rw, ledger),
	}
}
