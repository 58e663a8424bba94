package nft

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	buyer   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func newRegistry(t *testing.T) (*storage.Store, func(fn func(r *Registry) error) error) {
	s, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, func(fn func(r *Registry) error) error {
		return s.Update(func(rw storage.ReadWriter) error { return fn(NewRegistry(rw)) })
	}
}

func TestMintAndOwner(t *testing.T) {
	s, update := newRegistry(t)

	err := update(func(r *Registry) error {
		if err := r.CreateCollection(1, creator); err != nil {
			return err
		}
		if err := r.Mint(1, 7, creator); err != nil {
			return err
		}
		return r.Mint(1, 8, creator)
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	err = update(func(r *Registry) error {
		owner, ok, err := r.Owner(1, 7)
		if err != nil {
			return err
		}
		if !ok || owner != creator {
			t.Errorf("owner = %s (ok=%v), want %s", owner.Hex(), ok, creator.Hex())
		}
		if _, ok, _ := r.Owner(1, 99); ok {
			t.Error("missing item reported as owned")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("owner: %v", err)
	}

	var items []*Item
	s.View(func(rd storage.Reader) error {
		items, err = ListItems(rd, 1)
		return err
	})
	if len(items) != 2 || items[0].ID != 7 || items[1].ID != 8 {
		t.Errorf("items = %+v, want ids 7, 8", items)
	}
}

func TestMintErrors(t *testing.T) {
	_, update := newRegistry(t)

	if err := update(func(r *Registry) error { return r.Mint(5, 1, creator) }); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("mint into missing collection err = %v", err)
	}

	err := update(func(r *Registry) error {
		if err := r.CreateCollection(1, creator); err != nil {
			return err
		}
		return r.Mint(1, 1, creator)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := update(func(r *Registry) error { return r.CreateCollection(1, buyer) }); !errors.Is(err, ErrCollectionExists) {
		t.Errorf("duplicate collection err = %v", err)
	}
	if err := update(func(r *Registry) error { return r.Mint(1, 1, buyer) }); !errors.Is(err, ErrItemExists) {
		t.Errorf("duplicate item err = %v", err)
	}
}

func TestTransferLock(t *testing.T) {
	_, update := newRegistry(t)

	err := update(func(r *Registry) error {
		if err := r.CreateCollection(1, creator); err != nil {
			return err
		}
		if err := r.Mint(1, 7, creator); err != nil {
			return err
		}
		return r.DisableTransfer(1, 7)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = update(func(r *Registry) error {
		if ok, _ := r.CanTransfer(1, 7); ok {
			t.Error("locked item reported transferable")
		}
		return r.Transfer(1, 7, buyer)
	})
	if !errors.Is(err, ErrTransferDisabled) {
		t.Fatalf("transfer of locked item err = %v", err)
	}

	err = update(func(r *Registry) error {
		if err := r.EnableTransfer(1, 7); err != nil {
			return err
		}
		if err := r.Transfer(1, 7, buyer); err != nil {
			return err
		}
		owner, _, err := r.Owner(1, 7)
		if owner != buyer {
			t.Errorf("owner = %s, want buyer", owner.Hex())
		}
		return err
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	err = update(func(r *Registry) error { return r.DisableTransfer(2, 2) })
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("lock missing item err = %v", err)
	}
}
