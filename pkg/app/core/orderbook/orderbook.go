package orderbook

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

// ErrOrderAlreadyExists is returned when the slot for an order is taken
var ErrOrderAlreadyExists = errors.New("order already exists")

const (
	prefixAsk = "ask"
	prefixBid = "bid"
)

// Ask is a resting sell order. At most one exists per item.
type Ask struct {
	Collection  uint32          `json:"collection"`
	Item        uint32          `json:"item"`
	Seller      common.Address  `json:"seller"`
	Price       *uint256.Int    `json:"price"`
	Fee         *uint256.Int    `json:"fee"`
	ExpiresAt   uint64          `json:"expires_at"` // Unix milliseconds
	EscrowAgent *common.Address `json:"escrow_agent,omitempty"`
}

// Bid is a resting buy order. At most one exists per item and price.
type Bid struct {
	Collection uint32         `json:"collection"`
	Item       uint32         `json:"item"`
	Price      *uint256.Int   `json:"price"`
	Buyer      common.Address `json:"buyer"`
	Fee        *uint256.Int   `json:"fee"`
	ExpiresAt  uint64         `json:"expires_at"`
}

// Live reports whether the order can still be matched at now
func (a *Ask) Live(now uint64) bool { return now < a.ExpiresAt }

// Live reports whether the order can still be matched at now
func (b *Bid) Live(now uint64) bool { return now < b.ExpiresAt }

// Key schema
//   ask:<collection>:<item>
//   bid:<collection>:<item>:<price as 64 hex digits>
// Fixed-width price keeps bids of one item ordered by price.

func askKey(collection, item uint32) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", prefixAsk, storage.Uint32(collection), storage.Uint32(item)))
}

func bidItemPrefix(collection, item uint32) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:", prefixBid, storage.Uint32(collection), storage.Uint32(item)))
}

func bidKey(collection, item uint32, price *uint256.Int) []byte {
	b := price.Bytes32()
	return append(bidItemPrefix(collection, item), hex.EncodeToString(b[:])...)
}

// Book is the order book bound to one staged state.
// Nothing else reads or writes ask:/bid: keys.
type Book struct {
	rw storage.ReadWriter
}

func New(rw storage.ReadWriter) *Book {
	return &Book{rw: rw}
}

// InsertAsk stores a new ask; the item must not already have one
func (b *Book) InsertAsk(a *Ask) error {
	key := askKey(a.Collection, a.Item)
	exists, err := b.rw.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("ask %d/%d: %w", a.Collection, a.Item, ErrOrderAlreadyExists)
	}
	return b.rw.Put(key, a)
}

// InsertBid stores a new bid; the (item, price) slot must be free
func (b *Book) InsertBid(bid *Bid) error {
	key := bidKey(bid.Collection, bid.Item, bid.Price)
	exists, err := b.rw.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("bid %d/%d@%s: %w", bid.Collection, bid.Item, bid.Price, ErrOrderAlreadyExists)
	}
	return b.rw.Put(key, bid)
}

// Ask returns the resting ask for an item
func (b *Book) Ask(collection, item uint32) (*Ask, bool, error) {
	return GetAsk(b.rw, collection, item)
}

// Bid returns the resting bid for an item at price
func (b *Book) Bid(collection, item uint32, price *uint256.Int) (*Bid, bool, error) {
	return GetBid(b.rw, collection, item, price)
}

// RemoveAsk deletes the ask, if any
func (b *Book) RemoveAsk(collection, item uint32) error {
	return b.rw.Delete(askKey(collection, item))
}

// RemoveBid deletes the bid, if any
func (b *Book) RemoveBid(collection, item uint32, price *uint256.Int) error {
	return b.rw.Delete(bidKey(collection, item, price))
}

// GetAsk loads an ask from any reader
func GetAsk(r storage.Reader, collection, item uint32) (*Ask, bool, error) {
	var a Ask
	found, err := r.Get(askKey(collection, item), &a)
	if err != nil || !found {
		return nil, found, err
	}
	return &a, true, nil
}

// GetBid loads a bid from any reader
func GetBid(r storage.Reader, collection, item uint32, price *uint256.Int) (*Bid, bool, error) {
	var bid Bid
	found, err := r.Get(bidKey(collection, item, price), &bid)
	if err != nil || !found {
		return nil, found, err
	}
	return &bid, true, nil
}

// Asks lists every resting ask, expired ones included
func Asks(r storage.Reader) ([]*Ask, error) {
	var out []*Ask
	err := r.Scan(storage.Prefix(prefixAsk), func(_, value []byte) error {
		var a Ask
		if err := storage.Decode(value, &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list asks: %w", err)
	}
	return out, nil
}

// Bids lists every resting bid, expired ones included
func Bids(r storage.Reader) ([]*Bid, error) {
	return scanBids(r, storage.Prefix(prefixBid))
}

// ItemBids lists the bids of one item in ascending price order
func ItemBids(r storage.Reader, collection, item uint32) ([]*Bid, error) {
	return scanBids(r, bidItemPrefix(collection, item))
}

func scanBids(r storage.Reader, prefix []byte) ([]*Bid, error) {
	var out []*Bid
	err := r.Scan(prefix, func(_, value []byte) error {
		var bid Bid
		if err := storage.Decode(value, &bid); err != nil {
			return err
		}
		out = append(out, &bid)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return out, nil
}
