package roles

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

func TestSetReturnsPrevious(t *testing.T) {
	s, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	a := common.HexToAddress("0xa1")
	b := common.HexToAddress("0xb1")

	set := func(addr common.Address) (prev common.Address, err error) {
		err = s.Update(func(rw storage.ReadWriter) error {
			prev, err = Set(rw, Payout, addr)
			return err
		})
		return prev, err
	}

	prev, err := set(a)
	if err != nil || prev != (common.Address{}) {
		t.Fatalf("first set: prev=%s err=%v", prev.Hex(), err)
	}
	if _, err := set(a); !errors.Is(err, ErrAccountAlreadySet) {
		t.Fatalf("same value err = %v, want ErrAccountAlreadySet", err)
	}
	prev, err = set(b)
	if err != nil || prev != a {
		t.Fatalf("second set: prev=%s err=%v, want %s", prev.Hex(), err, a.Hex())
	}

	var view *Roles
	s.View(func(r storage.Reader) error {
		view, err = Load(r)
		return err
	})
	if view.Payout == nil || *view.Payout != b {
		t.Errorf("payout = %v, want %s", view.Payout, b.Hex())
	}
	if view.Authority != nil || view.FeeSigner != nil {
		t.Errorf("unset roles reported: %+v", view)
	}
}

func TestZeroAddressIsAValue(t *testing.T) {
	s, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	err = s.Update(func(rw storage.ReadWriter) error {
		_, err := Set(rw, Authority, common.Address{})
		return err
	})
	if err != nil {
		t.Fatalf("set zero: %v", err)
	}
	s.View(func(r storage.Reader) error {
		if _, ok, _ := Get(r, Authority); !ok {
			t.Error("zero address authority reported unset")
		}
		return nil
	})
}
