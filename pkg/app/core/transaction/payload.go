package transaction

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// ErrInvalidOrder marks a malformed payload
var ErrInvalidOrder = errors.New("invalid order")

// CallType names a public operation
type CallType string

const (
	CallCreateOrder       CallType = "create_order"
	CallCancelOrder       CallType = "cancel_order"
	CallForceSetAuthority CallType = "force_set_authority"
	CallSetFeeSigner      CallType = "set_fee_signer_address"
	CallSetPayoutAddress  CallType = "set_payout_address"
	CallReleaseEscrow     CallType = "release_escrow"
)

// OrderPayload is the wire form of an Order
type OrderPayload struct {
	Type        OrderType `json:"type"`                   // "ask" or "bid"
	Collection  uint32    `json:"collection"`             // Collection id
	Item        uint32    `json:"item"`                   // Item id
	Price       string    `json:"price"`                  // Decimal string
	Fee         string    `json:"fee"`                    // Decimal string
	ExpiresAt   uint64    `json:"expires_at"`             // Unix milliseconds
	EscrowAgent string    `json:"escrow_agent,omitempty"` // Ethereum address (0x...)
	Nonce       string    `json:"nonce"`                  // Hex (0x...)
	Signature   string    `json:"signature"`              // Fee signer signature, hex (0x...)
}

// CancelPayload identifies a resting order. Price is ignored for asks.
type CancelPayload struct {
	Type       OrderType `json:"type"`
	Collection uint32    `json:"collection"`
	Item       uint32    `json:"item"`
	Price      string    `json:"price,omitempty"`
}

// Call is the body of a signed call
type Call struct {
	Type      CallType       `json:"type"`
	Order     *OrderPayload  `json:"order,omitempty"`
	Execution ExecutionMode  `json:"execution,omitempty"`
	Cancel    *CancelPayload `json:"cancel,omitempty"`
	Account   string         `json:"account,omitempty"`   // role setters
	EscrowID  uint64         `json:"escrow_id,omitempty"` // release_escrow
	Deadline  uint64         `json:"deadline"`            // Unix milliseconds; rejected after
}

// SignedCall authenticates the caller: Signature is the caller's signature
// over keccak256(Call).
type SignedCall struct {
	Call      json.RawMessage `json:"call"`
	Caller    string          `json:"caller"`
	Signature string          `json:"signature"`
}

// ToOrder parses and validates the payload
func (p *OrderPayload) ToOrder() (*Order, error) {
	if p.Type != OrderTypeAsk && p.Type != OrderTypeBid {
		return nil, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, p.Type)
	}
	price, err := parseAmount("price", p.Price)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount("fee", p.Fee)
	if err != nil {
		return nil, err
	}
	nonce, err := hexutil.Decode(p.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrInvalidOrder, err)
	}
	sig, err := decodeSignature(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	order := &Order{
		Type:       p.Type,
		Collection: p.Collection,
		Item:       p.Item,
		Price:      price,
		Fee:        fee,
		ExpiresAt:  p.ExpiresAt,
		Nonce:      nonce,
		Signature:  sig,
	}
	if p.EscrowAgent != "" {
		if !common.IsHexAddress(p.EscrowAgent) {
			return nil, fmt.Errorf("%w: escrow agent %q", ErrInvalidOrder, p.EscrowAgent)
		}
		agent := common.HexToAddress(p.EscrowAgent)
		if agent == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero escrow agent", ErrInvalidOrder)
		}
		order.EscrowAgent = &agent
	}
	return order, nil
}

// FromOrder converts an Order to its wire form
func FromOrder(o *Order) *OrderPayload {
	p := &OrderPayload{
		Type:       o.Type,
		Collection: o.Collection,
		Item:       o.Item,
		Price:      o.Price.Dec(),
		Fee:        o.Fee.Dec(),
		ExpiresAt:  o.ExpiresAt,
		Nonce:      hexutil.Encode(o.Nonce),
		Signature:  hexutil.Encode(o.Signature),
	}
	if o.EscrowAgent != nil {
		p.EscrowAgent = o.EscrowAgent.Hex()
	}
	return p
}

// Target parses the cancel payload
func (c *CancelPayload) Target() (OrderType, *uint256.Int, error) {
	switch c.Type {
	case OrderTypeAsk:
		return c.Type, nil, nil
	case OrderTypeBid:
		price, err := parseAmount("price", c.Price)
		return c.Type, price, err
	default:
		return "", nil, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, c.Type)
	}
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidOrder, field, s, err)
	}
	return v, nil
}

// ParseAccount parses the account argument of a role setter
func (c *Call) ParseAccount() (common.Address, error) {
	if !common.IsHexAddress(c.Account) {
		return common.Address{}, fmt.Errorf("%w: account %q", ErrInvalidOrder, c.Account)
	}
	return common.HexToAddress(c.Account), nil
}

// Validate performs basic validation on call structure
func (c *Call) Validate() error {
	switch c.Type {
	case CallCreateOrder:
		if c.Order == nil {
			return fmt.Errorf("%w: create_order requires order payload", ErrInvalidOrder)
		}
		if c.Execution != AllowCreation && c.Execution != Force {
			return fmt.Errorf("%w: unknown execution mode %q", ErrInvalidOrder, c.Execution)
		}
	case CallCancelOrder:
		if c.Cancel == nil {
			return fmt.Errorf("%w: cancel_order requires cancel payload", ErrInvalidOrder)
		}
	case CallForceSetAuthority, CallSetFeeSigner, CallSetPayoutAddress:
		if c.Account == "" {
			return fmt.Errorf("%w: %s requires account", ErrInvalidOrder, c.Type)
		}
	case CallReleaseEscrow:
	default:
		return fmt.Errorf("%w: unknown call type %q", ErrInvalidOrder, c.Type)
	}
	return nil
}

// SignCall wraps call in an envelope signed by signer
func SignCall(signer *crypto.Signer, call *Call) (*SignedCall, error) {
	raw, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call: %w", err)
	}
	sig, err := signer.SignMessage(raw)
	if err != nil {
		return nil, err
	}
	return &SignedCall{
		Call:      raw,
		Caller:    signer.Address().Hex(),
		Signature: hexutil.Encode(sig),
	}, nil
}

// Open verifies the caller signature and decodes the call.
// The call must not be past its deadline at now (Unix milliseconds).
func (sc *SignedCall) Open(now uint64) (common.Address, *Call, error) {
	if !common.IsHexAddress(sc.Caller) {
		return common.Address{}, nil, fmt.Errorf("%w: caller %q", ErrInvalidOrder, sc.Caller)
	}
	caller := common.HexToAddress(sc.Caller)

	sig, err := decodeSignature(sc.Signature)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !crypto.VerifySignature(caller, ethCrypto.Keccak256(sc.Call), sig) {
		return common.Address{}, nil, fmt.Errorf("%w: caller signature", ErrInvalidOrder)
	}

	var call Call
	if err := json.Unmarshal(sc.Call, &call); err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if err := call.Validate(); err != nil {
		return common.Address{}, nil, err
	}
	if call.Deadline != 0 && now > call.Deadline {
		return common.Address{}, nil, fmt.Errorf("%w: call expired at %d", ErrInvalidOrder, call.Deadline)
	}
	return caller, &call, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
