package account

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

var (
	ErrInsufficientFunds = errors.New("insufficient free balance")
	ErrInsufficientHold  = errors.New("insufficient held balance")
	ErrBelowMinimum      = errors.New("account would fall below the existential deposit")
	ErrOverflow          = errors.New("balance overflow")
)

const prefixAccount = "acc"

func accountKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s:%s", prefixAccount, addr.Hex()))
}

// Ledger is the fungible balance ledger bound to one staged state.
// It does not retain anything between calls: every read goes through rw,
// so a discarded Update discards every balance change made through it.
type Ledger struct {
	rw                 storage.ReadWriter
	existentialDeposit *uint256.Int
}

// NewLedger binds a ledger to rw. A nil existentialDeposit means zero.
func NewLedger(rw storage.ReadWriter, existentialDeposit *uint256.Int) *Ledger {
	ed := new(uint256.Int)
	if existentialDeposit != nil {
		ed.Set(existentialDeposit)
	}
	return &Ledger{rw: rw, existentialDeposit: ed}
}

// Get loads an account record. Unknown addresses return an empty record.
func Get(r storage.Reader, addr common.Address) (*Account, error) {
	acc := newAccount(addr)
	if _, err := r.Get(accountKey(addr), acc); err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", addr.Hex(), err)
	}
	if acc.Free == nil {
		acc.Free = new(uint256.Int)
	}
	if acc.Holds == nil {
		acc.Holds = make(map[HoldReason]*uint256.Int)
	}
	return acc, nil
}

// List returns every funded account in address order
func List(r storage.Reader) ([]*Account, error) {
	var out []*Account
	err := r.Scan(storage.Prefix(prefixAccount), func(_, value []byte) error {
		var acc Account
		if err := storage.Decode(value, &acc); err != nil {
			return err
		}
		out = append(out, &acc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return out, nil
}

func (l *Ledger) save(acc *Account) error {
	for reason, v := range acc.Holds {
		if v == nil || v.IsZero() {
			delete(acc.Holds, reason)
		}
	}
	if acc.isEmpty() {
		return l.rw.Delete(accountKey(acc.Address))
	}
	return l.rw.Put(accountKey(acc.Address), acc)
}

// Balance returns the free (spendable) balance of who
func (l *Ledger) Balance(who common.Address) (*uint256.Int, error) {
	acc, err := Get(l.rw, who)
	if err != nil {
		return nil, err
	}
	return acc.FreeBalance(), nil
}

// HeldBalance returns the amount held on who under reason
func (l *Ledger) HeldBalance(reason HoldReason, who common.Address) (*uint256.Int, error) {
	acc, err := Get(l.rw, who)
	if err != nil {
		return nil, err
	}
	return acc.HeldBalance(reason), nil
}

// MinimumBalance returns the existential deposit
func (l *Ledger) MinimumBalance() *uint256.Int {
	return new(uint256.Int).Set(l.existentialDeposit)
}

// Deposit mints amount into who's free balance.
// A new account must receive at least the existential deposit.
func (l *Ledger) Deposit(who common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	acc, err := Get(l.rw, who)
	if err != nil {
		return err
	}
	if err := l.credit(acc, amount); err != nil {
		return err
	}
	return l.save(acc)
}

func (l *Ledger) credit(acc *Account, amount *uint256.Int) error {
	free, overflow := new(uint256.Int).AddOverflow(acc.FreeBalance(), amount)
	if overflow {
		return fmt.Errorf("credit %s to %s: %w", amount, acc.Address.Hex(), ErrOverflow)
	}
	if acc.isEmpty() && free.Lt(l.existentialDeposit) {
		return fmt.Errorf("credit %s to new account %s: %w", amount, acc.Address.Hex(), ErrBelowMinimum)
	}
	acc.Free = free
	return nil
}

// Transfer moves amount of free balance from one account to another.
// With preserve set the sender must keep at least the existential deposit.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int, preserve bool) error {
	if amount.IsZero() || from == to {
		return nil
	}

	src, err := Get(l.rw, from)
	if err != nil {
		return err
	}
	free, underflow := new(uint256.Int).SubOverflow(src.FreeBalance(), amount)
	if underflow {
		return fmt.Errorf("transfer %s from %s (free %s): %w", amount, from.Hex(), src.FreeBalance(), ErrInsufficientFunds)
	}
	src.Free = free
	if preserve && src.Total().Lt(l.existentialDeposit) {
		return fmt.Errorf("transfer %s from %s: %w", amount, from.Hex(), ErrBelowMinimum)
	}

	dst, err := Get(l.rw, to)
	if err != nil {
		return err
	}
	if err := l.credit(dst, amount); err != nil {
		return err
	}

	if err := l.save(src); err != nil {
		return err
	}
	return l.save(dst)
}

// Hold moves amount from who's free balance into the hold tagged reason
func (l *Ledger) Hold(reason HoldReason, who common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	acc, err := Get(l.rw, who)
	if err != nil {
		return err
	}

	free, underflow := new(uint256.Int).SubOverflow(acc.FreeBalance(), amount)
	if underflow {
		return fmt.Errorf("hold %s on %s (free %s): %w", amount, who.Hex(), acc.FreeBalance(), ErrInsufficientFunds)
	}
	held, overflow := new(uint256.Int).AddOverflow(acc.HeldBalance(reason), amount)
	if overflow {
		return fmt.Errorf("hold %s on %s: %w", amount, who.Hex(), ErrOverflow)
	}

	acc.Free = free
	acc.Holds[reason] = held
	return l.save(acc)
}

// Release returns up to amount held under reason back to who's free balance
// and reports how much was released. With Exact precision the full amount
// must be held.
func (l *Ledger) Release(reason HoldReason, who common.Address, amount *uint256.Int, precision Precision) (*uint256.Int, error) {
	acc, err := Get(l.rw, who)
	if err != nil {
		return nil, err
	}

	held := acc.HeldBalance(reason)
	release := new(uint256.Int).Set(amount)
	if held.Lt(amount) {
		if precision == Exact {
			return nil, fmt.Errorf("release %s of %q on %s (held %s): %w", amount, reason, who.Hex(), held, ErrInsufficientHold)
		}
		release.Set(held)
	}
	if release.IsZero() {
		return release, nil
	}

	acc.Holds[reason] = held.Sub(held, release)
	// free + held never exceeds the total ever credited
	acc.Free = new(uint256.Int).Add(acc.FreeBalance(), release)
	if err := l.save(acc); err != nil {
		return nil, err
	}
	return release, nil
}
