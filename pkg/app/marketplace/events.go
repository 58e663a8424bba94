package marketplace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
)

// EventType tags an Event
type EventType string

const (
	EventAuthoritySet        EventType = "authority_set"
	EventFeeSignerAddressSet EventType = "fee_signer_address_set"
	EventPayoutAddressSet    EventType = "payout_address_set"
	EventOrderCreated        EventType = "order_created"
	EventOrderExecuted       EventType = "order_executed"
	EventOrderCanceled       EventType = "order_canceled"
	EventEscrowReleased      EventType = "escrow_released"
)

// Event is emitted by a committed call
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// RoleSet is the payload of the three role events
type RoleSet struct {
	Account  common.Address  `json:"account"`
	Previous *common.Address `json:"previous,omitempty"`
}

type OrderCreated struct {
	OrderType   transaction.OrderType `json:"order_type"`
	Collection  uint32                `json:"collection"`
	Item        uint32                `json:"item"`
	Creator     common.Address        `json:"creator"`
	Price       *uint256.Int          `json:"price"`
	Fee         *uint256.Int          `json:"fee"`
	ExpiresAt   uint64                `json:"expires_at"`
	EscrowAgent *common.Address       `json:"escrow_agent,omitempty"`
}

type OrderExecuted struct {
	Collection uint32         `json:"collection"`
	Item       uint32         `json:"item"`
	Seller     common.Address `json:"seller"`
	Buyer      common.Address `json:"buyer"`
	Price      *uint256.Int   `json:"price"`
	SellerFee  *uint256.Int   `json:"seller_fee"`
	BuyerFee   *uint256.Int   `json:"buyer_fee"`
}

type OrderCanceled struct {
	OrderType  transaction.OrderType `json:"order_type"`
	Collection uint32                `json:"collection"`
	Item       uint32                `json:"item"`
	Price      *uint256.Int          `json:"price"`
	Creator    common.Address        `json:"creator"`
	CanceledBy common.Address        `json:"canceled_by"`
}

type EscrowReleased struct {
	ID          uint64         `json:"id"`
	Agent       common.Address `json:"agent"`
	Destination common.Address `json:"destination"`
	Amount      *uint256.Int   `json:"amount"`
}

// Publisher receives events after their call committed
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ev Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// MultiPublisher fans events out in order
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ev)
		}
	}
}
