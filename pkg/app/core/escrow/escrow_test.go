package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

var (
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	agent  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func TestDepositAndRelease(t *testing.T) {
	s, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	err = s.Update(func(rw storage.ReadWriter) error {
		ledger := account.NewLedger(rw, nil)
		if err := ledger.Deposit(buyer, uint256.NewInt(10000)); err != nil {
			return err
		}
		return New(rw, ledger).MakeDeposit(buyer, seller, uint256.NewInt(9998), agent)
	})
	if err != nil {
		t.Fatalf("make deposit: %v", err)
	}

	var deposits []*Deposit
	err = s.View(func(r storage.Reader) error {
		acc, err := account.Get(r, seller)
		if err != nil {
			return err
		}
		if !acc.FreeBalance().IsZero() || acc.HeldBalance(HoldReason).Uint64() != 9998 {
			t.Errorf("seller free=%s escrowed=%s, want 0 and 9998", acc.FreeBalance(), acc.HeldBalance(HoldReason))
		}
		deposits, err = List(r)
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(deposits) != 1 || deposits[0].Agent != agent {
		t.Fatalf("deposits = %+v", deposits)
	}
	id := deposits[0].ID

	err = s.Update(func(rw storage.ReadWriter) error {
		_, err := New(rw, account.NewLedger(rw, nil)).Release(seller, id)
		return err
	})
	if !errors.Is(err, ErrNotAgent) {
		t.Fatalf("release by seller err = %v, want ErrNotAgent", err)
	}

	err = s.Update(func(rw storage.ReadWriter) error {
		_, err := New(rw, account.NewLedger(rw, nil)).Release(agent, id)
		return err
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	err = s.Update(func(rw storage.ReadWriter) error {
		_, err := New(rw, account.NewLedger(rw, nil)).Release(agent, id)
		return err
	})
	if !errors.Is(err, ErrDepositNotFound) {
		t.Fatalf("second release err = %v, want ErrDepositNotFound", err)
	}

	s.View(func(r storage.Reader) error {
		acc, _ := account.Get(r, seller)
		if acc.FreeBalance().Uint64() != 9998 {
			t.Errorf("seller free after release = %s, want 9998", acc.FreeBalance())
		}
		return nil
	})
}
