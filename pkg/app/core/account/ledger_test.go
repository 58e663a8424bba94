package account

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

const reasonBid HoldReason = "bid"

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// withLedger runs fn inside one committed update
func withLedger(t *testing.T, s *storage.Store, ed uint64, fn func(l *Ledger) error) error {
	t.Helper()
	return s.Update(func(rw storage.ReadWriter) error {
		return fn(NewLedger(rw, u(ed)))
	})
}

func newStore(t *testing.T) *storage.Store {
	s, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func balanceOf(t *testing.T, s *storage.Store, who common.Address) *Account {
	t.Helper()
	var acc *Account
	err := s.View(func(r storage.Reader) error {
		var err error
		acc, err = Get(r, who)
		return err
	})
	if err != nil {
		t.Fatalf("load %s: %v", who.Hex(), err)
	}
	return acc
}

func TestDepositAndTransfer(t *testing.T) {
	s := newStore(t)

	if err := withLedger(t, s, 1, func(l *Ledger) error {
		if err := l.Deposit(alice, u(100)); err != nil {
			return err
		}
		return l.Transfer(alice, bob, u(40), true)
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := balanceOf(t, s, alice).FreeBalance(); got.Uint64() != 60 {
		t.Errorf("alice free = %s, want 60", got)
	}
	if got := balanceOf(t, s, bob).FreeBalance(); got.Uint64() != 40 {
		t.Errorf("bob free = %s, want 40", got)
	}
}

func TestTransferErrors(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		preserve bool
		want     error
	}{
		{"insufficient", 101, false, ErrInsufficientFunds},
		{"preserve keeps existential deposit", 100, true, ErrBelowMinimum},
		{"below minimum for new account", 4, false, ErrBelowMinimum},
		{"expendable drains sender", 100, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			if err := withLedger(t, s, 5, func(l *Ledger) error { return l.Deposit(alice, u(100)) }); err != nil {
				t.Fatalf("deposit: %v", err)
			}

			err := withLedger(t, s, 5, func(l *Ledger) error {
				return l.Transfer(alice, bob, u(tt.amount), tt.preserve)
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("transfer err = %v, want %v", err, tt.want)
			}
			if tt.want != nil && balanceOf(t, s, alice).FreeBalance().Uint64() != 100 {
				t.Errorf("failed transfer changed sender balance")
			}
		})
	}
}

func TestHoldAndRelease(t *testing.T) {
	s := newStore(t)

	err := withLedger(t, s, 0, func(l *Ledger) error {
		if err := l.Deposit(alice, u(10003)); err != nil {
			return err
		}
		return l.Hold(reasonBid, alice, u(10003))
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	acc := balanceOf(t, s, alice)
	if !acc.FreeBalance().IsZero() || acc.HeldBalance(reasonBid).Uint64() != 10003 {
		t.Fatalf("after hold: free=%s held=%s", acc.FreeBalance(), acc.HeldBalance(reasonBid))
	}

	// holds are not spendable
	err = withLedger(t, s, 0, func(l *Ledger) error { return l.Transfer(alice, bob, u(1), false) })
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("transfer of held funds err = %v, want ErrInsufficientFunds", err)
	}

	// exact release of more than held fails
	err = withLedger(t, s, 0, func(l *Ledger) error {
		_, err := l.Release(reasonBid, alice, u(10004), Exact)
		return err
	})
	if !errors.Is(err, ErrInsufficientHold) {
		t.Fatalf("exact over-release err = %v, want ErrInsufficientHold", err)
	}

	// a different reason does not see the hold
	err = withLedger(t, s, 0, func(l *Ledger) error {
		_, err := l.Release("escrow", alice, u(1), Exact)
		return err
	})
	if !errors.Is(err, ErrInsufficientHold) {
		t.Fatalf("release under other reason err = %v, want ErrInsufficientHold", err)
	}

	var released *uint256.Int
	err = withLedger(t, s, 0, func(l *Ledger) error {
		var err error
		released, err = l.Release(reasonBid, alice, u(20000), BestEffort)
		return err
	})
	if err != nil {
		t.Fatalf("best effort release: %v", err)
	}
	if released.Uint64() != 10003 {
		t.Errorf("released = %s, want 10003", released)
	}
	acc = balanceOf(t, s, alice)
	if acc.FreeBalance().Uint64() != 10003 || !acc.TotalHeld().IsZero() {
		t.Errorf("after release: free=%s held=%s", acc.FreeBalance(), acc.TotalHeld())
	}
}

func TestDepositOverflow(t *testing.T) {
	s := newStore(t)
	top := new(uint256.Int).SetAllOne()

	err := withLedger(t, s, 0, func(l *Ledger) error {
		if err := l.Deposit(alice, top); err != nil {
			return err
		}
		return l.Deposit(alice, u(1))
	})
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if !balanceOf(t, s, alice).isEmpty() {
		t.Error("failed update left a balance behind")
	}
}

func TestEmptyAccountIsDropped(t *testing.T) {
	s := newStore(t)
	err := withLedger(t, s, 0, func(l *Ledger) error {
		if err := l.Deposit(alice, u(7)); err != nil {
			return err
		}
		return l.Transfer(alice, bob, u(7), false)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	var accounts []*Account
	if err := s.View(func(r storage.Reader) error {
		var err error
		accounts, err = List(r)
		return err
	}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Address != bob {
		t.Errorf("accounts = %+v, want only bob", accounts)
	}
}
