package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/deployments
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "NFTMarket")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Contract address (or zero for off-chain)
}

// OrderMessageEIP712 is the payload the fee signer authorizes.
// The order side is deliberately not part of it.
type OrderMessageEIP712 struct {
	Collection  uint32         // Collection id
	Item        uint32         // Item id within the collection
	Price       *big.Int       // Price in base units
	ExpiresAt   uint64         // Expiration (Unix milliseconds)
	Fee         *big.Int       // Marketplace fee in base units
	EscrowAgent common.Address // Zero address = no escrow
	Nonce       []byte         // One-time token for replay protection
}

// EIP712Signer handles EIP-712 typed data hashing and signing for order messages
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the default EIP-712 domain for local development
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "NFTMarket",
		Version:           "1",
		ChainID:           big.NewInt(1337), // Local dev chain
		VerifyingContract: common.Address{}, // Zero address for off-chain signing
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderMessageType = []apitypes.Type{
	{Name: "collection", Type: "uint32"},
	{Name: "item", Type: "uint32"},
	{Name: "price", Type: "uint256"},
	{Name: "expiresAt", Type: "uint64"},
	{Name: "fee", Type: "uint256"},
	{Name: "escrowAgent", Type: "address"},
	{Name: "nonce", Type: "bytes"},
}

func (e *EIP712Signer) typedData(msg *OrderMessageEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"OrderMessage": orderMessageType,
		},
		PrimaryType: "OrderMessage",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"collection":  fmt.Sprintf("%d", msg.Collection),
			"item":        fmt.Sprintf("%d", msg.Item),
			"price":       msg.Price.String(),
			"expiresAt":   fmt.Sprintf("%d", msg.ExpiresAt),
			"fee":         msg.Fee.String(),
			"escrowAgent": msg.EscrowAgent.Hex(),
			"nonce":       hexutil.Bytes(msg.Nonce),
		},
	}
}

// HashOrderMessage hashes an order message according to EIP-712
// Returns the 32-byte digest that the fee signer signs
func (e *EIP712Signer) HashOrderMessage(msg *OrderMessageEIP712) ([]byte, error) {
	if msg.Price == nil || msg.Fee == nil {
		return nil, fmt.Errorf("price and fee are required")
	}
	typedData := e.typedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignOrderMessage signs an order message and returns the signature
func (e *EIP712Signer) SignOrderMessage(signer *Signer, msg *OrderMessageEIP712) ([]byte, error) {
	hash, err := e.HashOrderMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order message: %w", err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order message: %w", err)
	}
	return signature, nil
}

// RecoverOrderMessageSigner recovers the address that signed an order message
func (e *EIP712Signer) RecoverOrderMessageSigner(msg *OrderMessageEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOrderMessage(msg)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order message: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// OrderMessageToJSON converts a message to JSON for wallet signing
// MetaMask and other wallets use this format for eth_signTypedData_v4
func (e *EIP712Signer) OrderMessageToJSON(msg *OrderMessageEIP712) (string, error) {
	fields := func(ts []apitypes.Type) []map[string]string {
		out := make([]map[string]string, len(ts))
		for i, t := range ts {
			out[i] = map[string]string{"name": t.Name, "type": t.Type}
		}
		return out
	}

	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": fields(domainType),
			"OrderMessage": fields(orderMessageType),
		},
		"primaryType": "OrderMessage",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"collection":  msg.Collection,
			"item":        msg.Item,
			"price":       msg.Price.String(),
			"expiresAt":   fmt.Sprintf("%d", msg.ExpiresAt),
			"fee":         msg.Fee.String(),
			"escrowAgent": msg.EscrowAgent.Hex(),
			"nonce":       hexutil.Encode(msg.Nonce),
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
