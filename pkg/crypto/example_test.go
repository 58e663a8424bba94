package crypto_test

import (
	"fmt"
	"math/big"

	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

func ExampleEIP712Signer_SignOrderMessage() {
	feeSigner, _ := crypto.GenerateKey()
	e := crypto.NewEIP712Signer(crypto.DefaultDomain())

	msg := &crypto.OrderMessageEIP712{
		Collection: 1,
		Item:       7,
		Price:      big.NewInt(10000),
		ExpiresAt:  1_700_000_600_000,
		Fee:        big.NewInt(3),
		Nonce:      []byte("listing-1"),
	}
	sig, _ := e.SignOrderMessage(feeSigner, msg)
	signer, _ := e.RecoverOrderMessageSigner(msg, sig)

	fmt.Println(len(sig), signer == feeSigner.Address())
	// Output: 65 true
}
