package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HoldReason tags a reservation so independent subsystems never release
// each other's funds.
type HoldReason string

// Precision controls how Release behaves when less than the requested amount
// is held.
type Precision int

const (
	Exact      Precision = iota // fail unless the full amount is held
	BestEffort                  // release whatever is held, up to amount
)

// Account is the persisted ledger record for one address.
// Free is spendable; Holds are reserved per reason and cannot be spent until
// released.
type Account struct {
	Address common.Address              `json:"address"`
	Free    *uint256.Int                `json:"free"`
	Holds   map[HoldReason]*uint256.Int `json:"holds,omitempty"`
}

func newAccount(addr common.Address) *Account {
	return &Account{
		Address: addr,
		Free:    new(uint256.Int),
		Holds:   make(map[HoldReason]*uint256.Int),
	}
}

// FreeBalance returns the spendable balance (never nil)
func (a *Account) FreeBalance() *uint256.Int {
	if a.Free == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(a.Free)
}

// HeldBalance returns the amount held under reason (never nil)
func (a *Account) HeldBalance(reason HoldReason) *uint256.Int {
	if v, ok := a.Holds[reason]; ok && v != nil {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// TotalHeld sums every hold. Holds are bounded by deposits so the sum
// cannot overflow.
func (a *Account) TotalHeld() *uint256.Int {
	total := new(uint256.Int)
	for _, v := range a.Holds {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// Total returns free plus held funds
func (a *Account) Total() *uint256.Int {
	return new(uint256.Int).Add(a.FreeBalance(), a.TotalHeld())
}

// isEmpty reports whether the record carries no funds and can be dropped
func (a *Account) isEmpty() bool {
	return a.Total().IsZero()
}
