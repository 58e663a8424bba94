package roles

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

// Role names one of the singleton marketplace accounts
type Role string

const (
	Authority Role = "authority"  // may set the other roles and cancel any order
	FeeSigner Role = "fee_signer" // must sign every order message
	Payout    Role = "payout"     // receives marketplace fees
)

// ErrAccountAlreadySet is returned when a role is set to its current value
var ErrAccountAlreadySet = errors.New("account already set")

func roleKey(role Role) []byte {
	return []byte("role:" + string(role))
}

// Roles is the view served by queries
type Roles struct {
	Authority *common.Address `json:"authority,omitempty"`
	FeeSigner *common.Address `json:"fee_signer,omitempty"`
	Payout    *common.Address `json:"payout,omitempty"`
}

// Get returns the account holding role; ok is false while it was never set
func Get(r storage.Reader, role Role) (addr common.Address, ok bool, err error) {
	ok, err = r.Get(roleKey(role), &addr)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("failed to load role %s: %w", role, err)
	}
	return addr, ok, nil
}

// Set assigns role to addr and returns the previous holder (zero if unset).
// Setting the current value fails with ErrAccountAlreadySet.
func Set(rw storage.ReadWriter, role Role, addr common.Address) (common.Address, error) {
	prev, ok, err := Get(rw, role)
	if err != nil {
		return common.Address{}, err
	}
	if ok && prev == addr {
		return common.Address{}, fmt.Errorf("%s %s: %w", role, addr.Hex(), ErrAccountAlreadySet)
	}
	if err := rw.Put(roleKey(role), addr); err != nil {
		return common.Address{}, err
	}
	return prev, nil
}

// Load reads all three roles
func Load(r storage.Reader) (*Roles, error) {
	out := &Roles{}
	for role, dst := range map[Role]**common.Address{
		Authority: &out.Authority,
		FeeSigner: &out.FeeSigner,
		Payout:    &out.Payout,
	} {
		addr, ok, err := Get(r, role)
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = &addr
		}
	}
	return out, nil
}
