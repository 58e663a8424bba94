package api

import (
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
)

// ==============================
// REST Response Types
// ==============================

// ItemInfo is an item with the orders resting on it
type ItemInfo struct {
	Collection uint32           `json:"collection"`
	Item       uint32           `json:"item"`
	Owner      string           `json:"owner"`
	Locked     bool             `json:"locked"`        // transfers disabled while an ask rests
	Ask        *orderbook.Ask   `json:"ask,omitempty"` // at most one
	Bids       []*orderbook.Bid `json:"bids"`          // ascending price
	Now        uint64           `json:"now"`           // Unix ms the view was taken at
}

// AccountInfo represents free and held balances
type AccountInfo struct {
	Address string                              `json:"address"`
	Free    *uint256.Int                        `json:"free"`
	Holds   map[account.HoldReason]*uint256.Int `json:"holds"`
	Total   *uint256.Int                        `json:"total"`
}

// RolesInfo lists the configured role accounts; unset roles are omitted
type RolesInfo struct {
	Authority string `json:"authority,omitempty"`
	FeeSigner string `json:"fee_signer,omitempty"`
	Payout    string `json:"payout,omitempty"`
}

// NodeStatus is returned by /health
type NodeStatus struct {
	Status      string `json:"status"`
	MempoolSize int    `json:"mempoolSize"`
	DevMode     bool   `json:"devMode"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string `json:"type"`    // marketplace event type
	Channel string `json:"channel"` // channel it was delivered on
	Data    any    `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "item:1:7", "account:0x..."]
}

// ==============================
// REST Request Types
// ==============================

// Signed calls are posted as transaction.SignedCall; see
// pkg/app/core/transaction/payload.go.

// DepositRequest is the payload for POST /api/v1/dev/deposit
type DepositRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"` // decimal
}

// MintRequest is the payload for POST /api/v1/dev/mint
type MintRequest struct {
	Collection uint32 `json:"collection"`
	Item       uint32 `json:"item"`
	Owner      string `json:"owner"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`   // stable reason, e.g. "already_used_nonce"
	Message string `json:"message"` // human readable detail
}
