package marketplace

import (
	"errors"

	"github.com/uhyunpark/nftmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/roles"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
)

// Authorization
var (
	ErrBadNonce               = transaction.ErrBadNonce
	ErrAlreadyUsedNonce       = transaction.ErrAlreadyUsedNonce
	ErrBadSignedMessage       = transaction.ErrBadSignedMessage
	ErrFeeSignerAddressNotSet = transaction.ErrFeeSignerAddressNotSet
)

// Validation
var (
	ErrInvalidExpiration = errors.New("invalid expiration")
	ErrItemNotFound      = errors.New("item not found")
	ErrNotItemOwner      = errors.New("caller is not the item owner")
	ErrBidOnOwnedItem    = errors.New("bid on owned item")
	ErrBuyerIsSeller     = errors.New("buyer is seller")
	ErrInvalidOrder      = transaction.ErrInvalidOrder
)

// State conflict
var (
	ErrOrderAlreadyExists  = orderbook.ErrOrderAlreadyExists
	ErrOrderNotFound       = errors.New("order not found")
	ErrValidMatchMustExist = errors.New("valid match must exist")
	ErrItemAlreadyLocked   = errors.New("item already locked")
)

// Resource
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrPayoutAddressNotSet = errors.New("payout address not set")
)

// Configuration and permissions
var (
	ErrAccountAlreadySet          = roles.ErrAccountAlreadySet
	ErrNotAuthority               = errors.New("caller is not the authority")
	ErrNotRoot                    = errors.New("caller is not root")
	ErrNotOrderCreatorOrAuthority = errors.New("caller is neither the order creator nor the authority")
)

// Escrow
var (
	ErrEscrowDepositNotFound = escrow.ErrDepositNotFound
	ErrNotEscrowAgent        = escrow.ErrNotAgent
)

var reasons = []struct {
	err  error
	name string
}{
	{ErrBadNonce, "bad_nonce"},
	{ErrAlreadyUsedNonce, "already_used_nonce"},
	{ErrBadSignedMessage, "bad_signed_message"},
	{ErrFeeSignerAddressNotSet, "fee_signer_address_not_set"},
	{ErrInvalidExpiration, "invalid_expiration"},
	{ErrItemNotFound, "item_not_found"},
	{ErrNotItemOwner, "not_item_owner"},
	{ErrBidOnOwnedItem, "bid_on_owned_item"},
	{ErrBuyerIsSeller, "buyer_is_seller"},
	{ErrInvalidOrder, "invalid_order"},
	{ErrOrderAlreadyExists, "order_already_exists"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrValidMatchMustExist, "valid_match_must_exist"},
	{ErrItemAlreadyLocked, "item_already_locked"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrOverflow, "overflow"},
	{ErrPayoutAddressNotSet, "payout_address_not_set"},
	{ErrAccountAlreadySet, "account_already_set"},
	{ErrNotAuthority, "not_authority"},
	{ErrNotRoot, "not_root"},
	{ErrNotOrderCreatorOrAuthority, "not_order_creator_or_authority"},
	{ErrEscrowDepositNotFound, "escrow_deposit_not_found"},
	{ErrNotEscrowAgent, "not_escrow_agent"},
}

// Reason returns a stable snake_case name for err, "internal" when err is
// not one of the marketplace errors.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "internal"
}
