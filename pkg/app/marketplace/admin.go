package marketplace

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/roles"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
)

// ForceSetAuthority sets the authority. Only root may call it.
// It returns the previous authority (zero if unset).
func (e *Engine) ForceSetAuthority(caller, authority common.Address) (common.Address, error) {
	var prev common.Address
	err := e.run(string(transaction.CallForceSetAuthority), func(c *call) error {
		if caller != e.cfg.Root {
			return fmt.Errorf("%s: %w", caller.Hex(), ErrNotRoot)
		}
		var err error
		prev, err = setRole(c, roles.Authority, EventAuthoritySet, authority)
		return err
	})
	return prev, err
}

// SetFeeSignerAddress sets the account whose signature authorizes orders
func (e *Engine) SetFeeSignerAddress(caller, feeSigner common.Address) (common.Address, error) {
	return e.setGuardedRole(transaction.CallSetFeeSigner, caller, roles.FeeSigner, EventFeeSignerAddressSet, feeSigner)
}

// SetPayoutAddress sets the account receiving marketplace fees
func (e *Engine) SetPayoutAddress(caller, payout common.Address) (common.Address, error) {
	return e.setGuardedRole(transaction.CallSetPayoutAddress, caller, roles.Payout, EventPayoutAddressSet, payout)
}

// setGuardedRole sets a role on behalf of the authority
func (e *Engine) setGuardedRole(name transaction.CallType, caller common.Address, role roles.Role, ev EventType, addr common.Address) (common.Address, error) {
	var prev common.Address
	err := e.run(string(name), func(c *call) error {
		if err := requireAuthority(c, caller); err != nil {
			return err
		}
		var err error
		prev, err = setRole(c, role, ev, addr)
		return err
	})
	return prev, err
}

func setRole(c *call, role roles.Role, ev EventType, addr common.Address) (common.Address, error) {
	_, hadPrev, err := roles.Get(c.rw, role)
	if err != nil {
		return common.Address{}, err
	}
	prev, err := roles.Set(c.rw, role, addr)
	if err != nil {
		return common.Address{}, err
	}
	data := &RoleSet{Account: addr}
	if hadPrev {
		data.Previous = &prev
	}
	c.emit(ev, data)
	return prev, nil
}

func isAuthority(c *call, caller common.Address) (bool, error) {
	authority, ok, err := roles.Get(c.rw, roles.Authority)
	if err != nil {
		return false, err
	}
	return ok && authority == caller, nil
}

func requireAuthority(c *call, caller common.Address) error {
	ok, err := isAuthority(c, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrNotAuthority)
	}
	return nil
}

// CancelOrder removes a resting order. The order's creator or the authority
// may cancel it; expired orders cancel like live ones. Canceling an ask
// unlocks the item, canceling a bid releases price + fee to the buyer.
// price is ignored for asks.
func (e *Engine) CancelOrder(caller common.Address, side transaction.OrderType, collection, item uint32, price *uint256.Int) error {
	return e.run(string(transaction.CallCancelOrder), func(c *call) error {
		switch side {
		case transaction.OrderTypeAsk:
			return cancelAsk(c, caller, collection, item)
		case transaction.OrderTypeBid:
			if price == nil {
				return fmt.Errorf("%w: bid cancel requires a price", ErrInvalidOrder)
			}
			return cancelBid(c, caller, collection, item, price)
		default:
			return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, side)
		}
	})
}

func canCancel(c *call, caller, creator common.Address) error {
	if caller == creator {
		return nil
	}
	ok, err := isAuthority(c, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrNotOrderCreatorOrAuthority)
	}
	return nil
}

func cancelAsk(c *call, caller common.Address, collection, item uint32) error {
	ask, found, err := c.book.Ask(collection, item)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("ask %d/%d: %w", collection, item, ErrOrderNotFound)
	}
	if err := canCancel(c, caller, ask.Seller); err != nil {
		return err
	}

	if err := c.book.RemoveAsk(collection, item); err != nil {
		return err
	}
	if err := c.Registry.EnableTransfer(collection, item); err != nil {
		return err
	}
	c.emit(EventOrderCanceled, &OrderCanceled{
		OrderType:  transaction.OrderTypeAsk,
		Collection: collection,
		Item:       item,
		Price:      ask.Price,
		Creator:    ask.Seller,
		CanceledBy: caller,
	})
	return nil
}

func cancelBid(c *call, caller common.Address, collection, item uint32, price *uint256.Int) error {
	bid, found, err := c.book.Bid(collection, item, price)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("bid %d/%d@%s: %w", collection, item, price, ErrOrderNotFound)
	}
	if err := canCancel(c, caller, bid.Buyer); err != nil {
		return err
	}

	return dropBid(c, bid, caller)
}

// dropBid removes a resting bid and gives its buyer the held price and fee back
func dropBid(c *call, bid *orderbook.Bid, by common.Address) error {
	if err := c.book.RemoveBid(bid.Collection, bid.Item, bid.Price); err != nil {
		return err
	}
	held, overflow := new(uint256.Int).AddOverflow(bid.Price, bid.Fee)
	if overflow {
		return fmt.Errorf("bid price %s + fee %s: %w", bid.Price, bid.Fee, ErrOverflow)
	}
	if _, err := c.Ledger.Release(BidHoldReason, bid.Buyer, held, account.Exact); err != nil {
		return fmt.Errorf("release bid hold: %w", err)
	}
	c.emit(EventOrderCanceled, &OrderCanceled{
		OrderType:  transaction.OrderTypeBid,
		Collection: bid.Collection,
		Item:       bid.Item,
		Price:      bid.Price,
		Creator:    bid.Buyer,
		CanceledBy: by,
	})
	return nil
}

// ReleaseEscrow lets an escrow agent release a deposit to its destination
func (e *Engine) ReleaseEscrow(caller common.Address, id uint64) error {
	return e.run(string(transaction.CallReleaseEscrow), func(c *call) error {
		d, err := c.Escrow.Release(caller, id)
		if err != nil {
			return err
		}
		c.emit(EventEscrowReleased, &EscrowReleased{
			ID:          d.ID,
			Agent:       d.Agent,
			Destination: d.Destination,
			Amount:      d.Amount,
		})
		return nil
	})
}
