package crypto

import "github.com/ethereum/go-ethereum/common"

// EthVerifier checks secp256k1 signatures over a 32-byte digest by
// recovering the signing address and comparing it to the claimed signer.
type EthVerifier struct{}

func (EthVerifier) Verify(message, signature []byte, signer common.Address) bool {
	return VerifySignature(signer, message, signature)
}
