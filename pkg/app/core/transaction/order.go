package transaction

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// OrderType is the side of an order
type OrderType string

const (
	OrderTypeAsk OrderType = "ask" // sell
	OrderTypeBid OrderType = "bid" // buy
)

// ExecutionMode tells the matching engine what to do without a counterpart
type ExecutionMode string

const (
	AllowCreation ExecutionMode = "allow_creation" // rest on the book
	Force         ExecutionMode = "force"          // match now or fail
)

// Order is a submission to create_order. It is never stored as-is.
type Order struct {
	Type        OrderType
	Collection  uint32
	Item        uint32
	Price       *uint256.Int
	Fee         *uint256.Int
	ExpiresAt   uint64 // Unix milliseconds
	EscrowAgent *common.Address
	Nonce       []byte
	Signature   []byte // fee signer's signature over Message()
}

// OrderMessage is what the fee signer signs: the order minus its type and
// signature.
type OrderMessage struct {
	Collection  uint32
	Item        uint32
	Price       *uint256.Int
	ExpiresAt   uint64
	Fee         *uint256.Int
	EscrowAgent *common.Address
	Nonce       []byte
}

// Message derives the signable payload
func (o *Order) Message() *OrderMessage {
	return &OrderMessage{
		Collection:  o.Collection,
		Item:        o.Item,
		Price:       o.Price,
		ExpiresAt:   o.ExpiresAt,
		Fee:         o.Fee,
		EscrowAgent: o.EscrowAgent,
		Nonce:       o.Nonce,
	}
}

// ToEIP712 converts the message for hashing. A missing escrow agent is the
// zero address.
func (m *OrderMessage) ToEIP712() *crypto.OrderMessageEIP712 {
	var agent common.Address
	if m.EscrowAgent != nil {
		agent = *m.EscrowAgent
	}
	return &crypto.OrderMessageEIP712{
		Collection:  m.Collection,
		Item:        m.Item,
		Price:       toBig(m.Price),
		ExpiresAt:   m.ExpiresAt,
		Fee:         toBig(m.Fee),
		EscrowAgent: agent,
		Nonce:       m.Nonce,
	}
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return nil
	}
	return v.ToBig()
}

// Encoder produces the canonical message bytes handed to the Verifier
type Encoder interface {
	Encode(msg *OrderMessage) ([]byte, error)
}

// EIP712Encoder encodes a message as its 32-byte EIP-712 digest
type EIP712Encoder struct {
	signer *crypto.EIP712Signer
}

func NewEIP712Encoder(domain crypto.EIP712Domain) *EIP712Encoder {
	return &EIP712Encoder{signer: crypto.NewEIP712Signer(domain)}
}

func (e *EIP712Encoder) Encode(msg *OrderMessage) ([]byte, error) {
	return e.signer.HashOrderMessage(msg.ToEIP712())
}
