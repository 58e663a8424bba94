package marketplace

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/app/core/roles"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
)

// Split is how a buyer's payment is divided
type Split struct {
	BuyerPayment   *uint256.Int // price + buyer fee, taken from the buyer's hold
	MarketplacePay *uint256.Int // buyer fee + seller fee, to the payout address
	SellerPay      *uint256.Int // the remainder, to the seller
}

// ComputeSplit divides a trade at price. Every step is overflow-checked, so
// SellerPay + MarketplacePay == BuyerPayment whenever it succeeds.
func ComputeSplit(price, buyerFee, sellerFee *uint256.Int) (*Split, error) {
	buyerPayment, overflow := new(uint256.Int).AddOverflow(price, buyerFee)
	if overflow {
		return nil, fmt.Errorf("price %s + buyer fee %s: %w", price, buyerFee, ErrOverflow)
	}
	marketplacePay, overflow := new(uint256.Int).AddOverflow(buyerFee, sellerFee)
	if overflow {
		return nil, fmt.Errorf("buyer fee %s + seller fee %s: %w", buyerFee, sellerFee, ErrOverflow)
	}
	sellerPay, underflow := new(uint256.Int).SubOverflow(buyerPayment, marketplacePay)
	if underflow {
		return nil, fmt.Errorf("buyer payment %s - marketplace pay %s: %w", buyerPayment, marketplacePay, ErrOverflow)
	}
	return &Split{BuyerPayment: buyerPayment, MarketplacePay: marketplacePay, SellerPay: sellerPay}, nil
}

// settle executes a trade between the incoming order of caller and the
// resting counterpart. The incoming order's fee and escrow agent apply to
// whichever side it is on.
func (e *Engine) settle(c *call, cp Counterpart, caller common.Address, order *transaction.Order) (*Trade, error) {
	var (
		seller, buyer       common.Address
		sellerFee, buyerFee *uint256.Int
		agent               *common.Address
	)
	switch {
	case cp.Bid != nil:
		seller, buyer = caller, cp.Bid.Buyer
		sellerFee, buyerFee = order.Fee, cp.Bid.Fee
		agent = order.EscrowAgent
	case cp.Ask != nil:
		seller, buyer = cp.Ask.Seller, caller
		sellerFee, buyerFee = cp.Ask.Fee, order.Fee
		agent = cp.Ask.EscrowAgent
	default:
		return nil, fmt.Errorf("%w: empty counterpart", ErrInvalidOrder)
	}
	if seller == buyer {
		return nil, fmt.Errorf("%s: %w", seller.Hex(), ErrBuyerIsSeller)
	}

	collection, item, price := order.Collection, order.Item, order.Price
	if err := c.book.RemoveAsk(collection, item); err != nil {
		return nil, err
	}
	if cp.Ask != nil {
		// an expired bid resting at the matched price is displaced, not consumed
		stale, found, err := c.book.Bid(collection, item, price)
		if err != nil {
			return nil, err
		}
		if found {
			if err := dropBid(c, stale, caller); err != nil {
				return nil, err
			}
		}
	}
	if err := c.book.RemoveBid(collection, item, price); err != nil {
		return nil, err
	}

	split, err := ComputeSplit(price, buyerFee, sellerFee)
	if err != nil {
		return nil, err
	}

	if _, err := c.Ledger.Release(BidHoldReason, buyer, split.BuyerPayment, account.Exact); err != nil {
		return nil, fmt.Errorf("release buyer hold: %w", err)
	}

	payout, ok, err := roles.Get(c.rw, roles.Payout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPayoutAddressNotSet
	}
	if err := c.Ledger.Transfer(buyer, payout, split.MarketplacePay, false); err != nil {
		return nil, fmt.Errorf("marketplace fee transfer: %w", err)
	}

	if agent != nil {
		if err := c.Escrow.MakeDeposit(buyer, seller, split.SellerPay, *agent); err != nil {
			return nil, fmt.Errorf("escrow deposit: %w", err)
		}
	} else if err := c.Ledger.Transfer(buyer, seller, split.SellerPay, false); err != nil {
		return nil, fmt.Errorf("seller transfer: %w", err)
	}

	if err := c.Registry.EnableTransfer(collection, item); err != nil {
		return nil, err
	}
	if err := c.Registry.Transfer(collection, item, buyer); err != nil {
		return nil, err
	}

	trade := &Trade{
		Collection:     collection,
		Item:           item,
		Seller:         seller,
		Buyer:          buyer,
		Price:          new(uint256.Int).Set(price),
		SellerFee:      new(uint256.Int).Set(sellerFee),
		BuyerFee:       new(uint256.Int).Set(buyerFee),
		BuyerPayment:   split.BuyerPayment,
		MarketplacePay: split.MarketplacePay,
		SellerPay:      split.SellerPay,
		EscrowAgent:    agent,
		ExecutedAt:     c.now,
	}
	if err := appendTrade(c.rw, trade); err != nil {
		return nil, err
	}

	c.emit(EventOrderExecuted, &OrderExecuted{
		Collection: collection,
		Item:       item,
		Seller:     seller,
		Buyer:      buyer,
		Price:      trade.Price,
		SellerFee:  trade.SellerFee,
		BuyerFee:   trade.BuyerFee,
	})
	return trade, nil
}
