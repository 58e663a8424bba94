package marketplace

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
)

// Counterpart is the resting order an incoming order matched.
// Exactly one of Ask and Bid is set.
type Counterpart struct {
	Ask *orderbook.Ask
	Bid *orderbook.Bid
}

// CreateOrder authorizes order and either settles it against an exact
// counterpart or, when mode allows, leaves it resting on the book.
// The returned trade is nil when no match happened.
func (e *Engine) CreateOrder(caller common.Address, order *transaction.Order, mode transaction.ExecutionMode) (*Trade, error) {
	if order == nil || order.Price == nil || order.Fee == nil {
		return nil, fmt.Errorf("%w: missing price or fee", ErrInvalidOrder)
	}
	// the signed message encodes "no agent" as the zero address
	if order.EscrowAgent != nil && *order.EscrowAgent == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero escrow agent", ErrInvalidOrder)
	}
	if mode != transaction.AllowCreation && mode != transaction.Force {
		return nil, fmt.Errorf("%w: unknown execution mode %q", ErrInvalidOrder, mode)
	}

	var trade *Trade
	err := e.run(string(transaction.CallCreateOrder), func(c *call) error {
		owner, ok, err := c.Registry.Owner(order.Collection, order.Item)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("item %d/%d: %w", order.Collection, order.Item, ErrItemNotFound)
		}

		if err := e.checkExpiration(c.now, order.ExpiresAt); err != nil {
			return err
		}

		message, err := e.encoder.Encode(order.Message())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		if err := e.auth.Authorize(c.rw, message, order.Signature, order.Nonce); err != nil {
			return err
		}

		switch order.Type {
		case transaction.OrderTypeAsk:
			trade, err = e.placeAsk(c, caller, owner, order, mode)
		case transaction.OrderTypeBid:
			trade, err = e.placeBid(c, caller, owner, order, mode)
		default:
			err = fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, order.Type)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// checkExpiration requires expiresAt to lie beyond now + MinOrderDuration
func (e *Engine) checkExpiration(now, expiresAt uint64) error {
	earliest := now + e.cfg.MinOrderDuration
	if earliest < now {
		return fmt.Errorf("minimum order duration overflows: %w", ErrInvalidExpiration)
	}
	if expiresAt <= earliest {
		return fmt.Errorf("expires at %d, must be after %d: %w", expiresAt, earliest, ErrInvalidExpiration)
	}
	return nil
}

func (e *Engine) placeAsk(c *call, caller, owner common.Address, order *transaction.Order, mode transaction.ExecutionMode) (*Trade, error) {
	_, exists, err := c.book.Ask(order.Collection, order.Item)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("ask %d/%d: %w", order.Collection, order.Item, ErrOrderAlreadyExists)
	}
	if caller != owner {
		return nil, fmt.Errorf("item %d/%d owned by %s: %w", order.Collection, order.Item, owner.Hex(), ErrNotItemOwner)
	}

	transferable, err := c.Registry.CanTransfer(order.Collection, order.Item)
	if err != nil {
		return nil, err
	}
	if !transferable {
		return nil, fmt.Errorf("item %d/%d: %w", order.Collection, order.Item, ErrItemAlreadyLocked)
	}
	if err := c.Registry.DisableTransfer(order.Collection, order.Item); err != nil {
		return nil, err
	}

	bid, found, err := c.book.Bid(order.Collection, order.Item, order.Price)
	if err != nil {
		return nil, err
	}
	if found && bid.Live(c.now) {
		return e.settle(c, Counterpart{Bid: bid}, caller, order)
	}

	if mode == transaction.Force {
		return nil, fmt.Errorf("ask %d/%d@%s: %w", order.Collection, order.Item, order.Price, ErrValidMatchMustExist)
	}
	ask := &orderbook.Ask{
		Collection:  order.Collection,
		Item:        order.Item,
		Seller:      caller,
		Price:       new(uint256.Int).Set(order.Price),
		Fee:         new(uint256.Int).Set(order.Fee),
		ExpiresAt:   order.ExpiresAt,
		EscrowAgent: order.EscrowAgent,
	}
	if err := c.book.InsertAsk(ask); err != nil {
		return nil, err
	}
	c.emit(EventOrderCreated, createdEvent(transaction.OrderTypeAsk, caller, order))
	return nil, nil
}

func (e *Engine) placeBid(c *call, caller, owner common.Address, order *transaction.Order, mode transaction.ExecutionMode) (*Trade, error) {
	if caller == owner {
		return nil, fmt.Errorf("item %d/%d: %w", order.Collection, order.Item, ErrBidOnOwnedItem)
	}

	held, overflow := new(uint256.Int).AddOverflow(order.Price, order.Fee)
	if overflow {
		return nil, fmt.Errorf("bid price %s + fee %s: %w", order.Price, order.Fee, ErrOverflow)
	}
	if err := c.Ledger.Hold(BidHoldReason, caller, held); err != nil {
		return nil, fmt.Errorf("%w: hold %s on %s: %w", ErrInsufficientFunds, held, caller.Hex(), err)
	}

	ask, found, err := c.book.Ask(order.Collection, order.Item)
	if err != nil {
		return nil, err
	}
	if found && ask.Price.Eq(order.Price) && ask.Live(c.now) {
		return e.settle(c, Counterpart{Ask: ask}, caller, order)
	}

	if mode == transaction.Force {
		return nil, fmt.Errorf("bid %d/%d@%s: %w", order.Collection, order.Item, order.Price, ErrValidMatchMustExist)
	}
	bid := &orderbook.Bid{
		Collection: order.Collection,
		Item:       order.Item,
		Price:      new(uint256.Int).Set(order.Price),
		Buyer:      caller,
		Fee:        new(uint256.Int).Set(order.Fee),
		ExpiresAt:  order.ExpiresAt,
	}
	if err := c.book.InsertBid(bid); err != nil {
		return nil, err
	}
	c.emit(EventOrderCreated, createdEvent(transaction.OrderTypeBid, caller, order))
	return nil, nil
}

func createdEvent(side transaction.OrderType, creator common.Address, order *transaction.Order) *OrderCreated {
	ev := &OrderCreated{
		OrderType:  side,
		Collection: order.Collection,
		Item:       order.Item,
		Creator:    creator,
		Price:      new(uint256.Int).Set(order.Price),
		Fee:        new(uint256.Int).Set(order.Fee),
		ExpiresAt:  order.ExpiresAt,
	}
	if side == transaction.OrderTypeAsk {
		ev.EscrowAgent = order.EscrowAgent
	}
	return ev
}
