package nft

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

var (
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrItemExists         = errors.New("item already exists")
	ErrItemNotFound       = errors.New("item not found")
	ErrTransferDisabled   = errors.New("item transfer disabled")
)

const (
	prefixCollection = "coll"
	prefixItem       = "item"
)

// Collection groups items under one creator
type Collection struct {
	ID      uint32         `json:"id"`
	Creator common.Address `json:"creator"`
	Items   uint32         `json:"items"` // number of minted items
}

// Item is a uniquely identified, transferable token
type Item struct {
	Collection uint32         `json:"collection"`
	ID         uint32         `json:"id"`
	Owner      common.Address `json:"owner"`
	Locked     bool           `json:"locked"` // transfers disabled while true
}

func collectionKey(collection uint32) []byte {
	return []byte(fmt.Sprintf("%s:%s", prefixCollection, storage.Uint32(collection)))
}

func itemKey(collection, item uint32) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", prefixItem, storage.Uint32(collection), storage.Uint32(item)))
}

func itemPrefix(collection uint32) []byte {
	return []byte(fmt.Sprintf("%s:%s:", prefixItem, storage.Uint32(collection)))
}

// Registry manages collections and item ownership on top of one staged state
type Registry struct {
	rw storage.ReadWriter
}

// NewRegistry binds a registry to rw
func NewRegistry(rw storage.ReadWriter) *Registry {
	return &Registry{rw: rw}
}

// CreateCollection registers a new collection
// Returns error if a collection with the same id already exists
func (r *Registry) CreateCollection(id uint32, creator common.Address) error {
	exists, err := r.rw.Has(collectionKey(id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("collection %d: %w", id, ErrCollectionExists)
	}
	return r.rw.Put(collectionKey(id), &Collection{ID: id, Creator: creator})
}

// Mint creates item in collection, owned by owner
func (r *Registry) Mint(collection, item uint32, owner common.Address) error {
	var c Collection
	found, err := r.rw.Get(collectionKey(collection), &c)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("collection %d: %w", collection, ErrCollectionNotFound)
	}

	exists, err := r.rw.Has(itemKey(collection, item))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("item %d/%d: %w", collection, item, ErrItemExists)
	}

	c.Items++
	if err := r.rw.Put(collectionKey(collection), &c); err != nil {
		return err
	}
	return r.rw.Put(itemKey(collection, item), &Item{Collection: collection, ID: item, Owner: owner})
}

func (r *Registry) load(collection, item uint32) (*Item, error) {
	var it Item
	found, err := r.rw.Get(itemKey(collection, item), &it)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("item %d/%d: %w", collection, item, ErrItemNotFound)
	}
	return &it, nil
}

// Owner returns the current owner; ok is false when the item does not exist
func (r *Registry) Owner(collection, item uint32) (common.Address, bool, error) {
	it, err := r.load(collection, item)
	if errors.Is(err, ErrItemNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	return it.Owner, true, nil
}

// Transfer moves ownership to to. Locked items cannot move.
func (r *Registry) Transfer(collection, item uint32, to common.Address) error {
	it, err := r.load(collection, item)
	if err != nil {
		return err
	}
	if it.Locked {
		return fmt.Errorf("item %d/%d: %w", collection, item, ErrTransferDisabled)
	}
	it.Owner = to
	return r.rw.Put(itemKey(collection, item), it)
}

// DisableTransfer locks the item in place
func (r *Registry) DisableTransfer(collection, item uint32) error {
	return r.setLocked(collection, item, true)
}

// EnableTransfer lifts the lock set by DisableTransfer
func (r *Registry) EnableTransfer(collection, item uint32) error {
	return r.setLocked(collection, item, false)
}

func (r *Registry) setLocked(collection, item uint32, locked bool) error {
	it, err := r.load(collection, item)
	if err != nil {
		return err
	}
	it.Locked = locked
	return r.rw.Put(itemKey(collection, item), it)
}

// CanTransfer reports whether the item exists and is not locked
func (r *Registry) CanTransfer(collection, item uint32) (bool, error) {
	it, err := r.load(collection, item)
	if errors.Is(err, ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !it.Locked, nil
}

// GetItem loads an item for queries
func GetItem(rd storage.Reader, collection, item uint32) (*Item, bool, error) {
	var it Item
	found, err := rd.Get(itemKey(collection, item), &it)
	if err != nil || !found {
		return nil, found, err
	}
	return &it, true, nil
}

// ListItems returns every item of a collection in id order
func ListItems(rd storage.Reader, collection uint32) ([]*Item, error) {
	var items []*Item
	err := rd.Scan(itemPrefix(collection), func(_, value []byte) error {
		var it Item
		if err := storage.Decode(value, &it); err != nil {
			return err
		}
		items = append(items, &it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list items of collection %d: %w", collection, err)
	}
	return items, nil
}
