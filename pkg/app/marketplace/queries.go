package marketplace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/nftmarket/pkg/app/core/nft"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/roles"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

// Queries read committed state only and are safe to call concurrently with
// the executor.

func (e *Engine) Ask(collection, item uint32) (ask *orderbook.Ask, found bool, err error) {
	err = e.store.View(func(r storage.Reader) error {
		ask, found, err = orderbook.GetAsk(r, collection, item)
		return err
	})
	return ask, found, err
}

func (e *Engine) Bid(collection, item uint32, price *uint256.Int) (bid *orderbook.Bid, found bool, err error) {
	err = e.store.View(func(r storage.Reader) error {
		bid, found, err = orderbook.GetBid(r, collection, item, price)
		return err
	})
	return bid, found, err
}

// Asks lists resting asks, expired ones included
func (e *Engine) Asks() (asks []*orderbook.Ask, err error) {
	err = e.store.View(func(r storage.Reader) error {
		asks, err = orderbook.Asks(r)
		return err
	})
	return asks, err
}

// Bids lists resting bids, expired ones included
func (e *Engine) Bids() (bids []*orderbook.Bid, err error) {
	err = e.store.View(func(r storage.Reader) error {
		bids, err = orderbook.Bids(r)
		return err
	})
	return bids, err
}

// ItemBids lists the bids on one item by ascending price
func (e *Engine) ItemBids(collection, item uint32) (bids []*orderbook.Bid, err error) {
	err = e.store.View(func(r storage.Reader) error {
		bids, err = orderbook.ItemBids(r, collection, item)
		return err
	})
	return bids, err
}

func (e *Engine) Roles() (out *roles.Roles, err error) {
	err = e.store.View(func(r storage.Reader) error {
		out, err = roles.Load(r)
		return err
	})
	return out, err
}

// RecentTrades returns up to limit trades, newest first. limit <= 0 returns all.
func (e *Engine) RecentTrades(limit int) (trades []*Trade, err error) {
	err = e.store.View(func(r storage.Reader) error {
		trades, err = recentTrades(r, limit)
		return err
	})
	return trades, err
}

func (e *Engine) Account(addr common.Address) (acc *account.Account, err error) {
	err = e.store.View(func(r storage.Reader) error {
		acc, err = account.Get(r, addr)
		return err
	})
	return acc, err
}

func (e *Engine) Item(collection, item uint32) (it *nft.Item, found bool, err error) {
	err = e.store.View(func(r storage.Reader) error {
		it, found, err = nft.GetItem(r, collection, item)
		return err
	})
	return it, found, err
}

func (e *Engine) EscrowDeposits() (deposits []*escrow.Deposit, err error) {
	err = e.store.View(func(r storage.Reader) error {
		deposits, err = escrow.List(r)
		return err
	})
	return deposits, err
}
