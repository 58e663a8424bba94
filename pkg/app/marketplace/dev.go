package marketplace

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/nft"
)

// ErrUnsupported is returned by dev helpers when the backend cannot mint
var ErrUnsupported = errors.New("operation not supported by backend")

type depositor interface {
	Deposit(who common.Address, amount *uint256.Int) error
}

type minter interface {
	CreateCollection(id uint32, creator common.Address) error
	Mint(collection, item uint32, owner common.Address) error
}

// Fund credits amount to who. Dev nodes only.
func (e *Engine) Fund(who common.Address, amount *uint256.Int) error {
	return e.run("fund", func(c *call) error {
		d, ok := c.Ledger.(depositor)
		if !ok {
			return fmt.Errorf("deposit: %w", ErrUnsupported)
		}
		return d.Deposit(who, amount)
	})
}

// MintItem creates item for owner, creating the collection on first use.
// Dev nodes only.
func (e *Engine) MintItem(collection, item uint32, owner common.Address) error {
	return e.run("mint", func(c *call) error {
		m, ok := c.Registry.(minter)
		if !ok {
			return fmt.Errorf("mint: %w", ErrUnsupported)
		}
		if err := m.CreateCollection(collection, owner); err != nil && !errors.Is(err, nft.ErrCollectionExists) {
			return err
		}
		return m.Mint(collection, item, owner)
	})
}
