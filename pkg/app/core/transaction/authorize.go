package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/nftmarket/pkg/app/core/roles"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

// Authorization errors
var (
	ErrBadNonce               = errors.New("bad nonce")
	ErrAlreadyUsedNonce       = errors.New("nonce already used")
	ErrFeeSignerAddressNotSet = errors.New("fee signer address not set")
	ErrBadSignedMessage       = errors.New("bad signed message")
)

// DefaultMaxNonceLen bounds nonce length in bytes
const DefaultMaxNonceLen = 64

// Verifier checks that signature was produced by signer over message
type Verifier interface {
	Verify(message, signature []byte, signer common.Address) bool
}

const prefixNonce = "nonce"

func nonceKey(nonce []byte) []byte {
	return []byte(prefixNonce + ":" + hex.EncodeToString(nonce))
}

// ReplayGuard is the set of consumed nonces. Nonces are never removed.
type ReplayGuard struct {
	rw storage.ReadWriter
}

func NewReplayGuard(rw storage.ReadWriter) *ReplayGuard {
	return &ReplayGuard{rw: rw}
}

// Used reports whether nonce was consumed
func (g *ReplayGuard) Used(nonce []byte) (bool, error) {
	return g.rw.Has(nonceKey(nonce))
}

// Consume records nonce
func (g *ReplayGuard) Consume(nonce []byte) error {
	return g.rw.Put(nonceKey(nonce), true)
}

// Authorizer gates create_order on a fee signer signature
type Authorizer struct {
	verifier    Verifier
	maxNonceLen int
}

// NewAuthorizer creates an authorizer. maxNonceLen <= 0 selects
// DefaultMaxNonceLen.
func NewAuthorizer(verifier Verifier, maxNonceLen int) *Authorizer {
	if maxNonceLen <= 0 {
		maxNonceLen = DefaultMaxNonceLen
	}
	return &Authorizer{verifier: verifier, maxNonceLen: maxNonceLen}
}

// Authorize checks nonce and signature and consumes the nonce on success.
// Nothing is written when it fails.
func (a *Authorizer) Authorize(rw storage.ReadWriter, message, signature, nonce []byte) error {
	if len(nonce) == 0 || len(nonce) > a.maxNonceLen {
		return fmt.Errorf("nonce length %d (max %d): %w", len(nonce), a.maxNonceLen, ErrBadNonce)
	}

	guard := NewReplayGuard(rw)
	used, err := guard.Used(nonce)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("nonce 0x%x: %w", nonce, ErrAlreadyUsedNonce)
	}

	feeSigner, ok, err := roles.Get(rw, roles.FeeSigner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFeeSignerAddressNotSet
	}

	if !a.verifier.Verify(message, signature, feeSigner) {
		return fmt.Errorf("signer %s: %w", feeSigner.Hex(), ErrBadSignedMessage)
	}
	return guard.Consume(nonce)
}
