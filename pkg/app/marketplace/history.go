package marketplace

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

const prefixTrade = "trade"

// Trade is the history record of one settlement
type Trade struct {
	Seq            uint64          `json:"seq"`
	Collection     uint32          `json:"collection"`
	Item           uint32          `json:"item"`
	Seller         common.Address  `json:"seller"`
	Buyer          common.Address  `json:"buyer"`
	Price          *uint256.Int    `json:"price"`
	SellerFee      *uint256.Int    `json:"seller_fee"`
	BuyerFee       *uint256.Int    `json:"buyer_fee"`
	BuyerPayment   *uint256.Int    `json:"buyer_payment"`
	MarketplacePay *uint256.Int    `json:"marketplace_pay"`
	SellerPay      *uint256.Int    `json:"seller_pay"`
	EscrowAgent    *common.Address `json:"escrow_agent,omitempty"`
	ExecutedAt     uint64          `json:"executed_at"` // Unix milliseconds
}

// tradeKey returns the key for a trade
// Format: "trade:{seq}", seq zero-padded so scans run in execution order
func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s:%s", prefixTrade, storage.Uint64(seq)))
}

func appendTrade(rw storage.ReadWriter, t *Trade) error {
	seq, err := storage.NextSeq(rw, prefixTrade)
	if err != nil {
		return err
	}
	t.Seq = seq
	return rw.Put(tradeKey(seq), t)
}

// recentTrades loads the most recent limit trades, newest first
func recentTrades(r storage.Reader, limit int) ([]*Trade, error) {
	var trades []*Trade
	err := r.ScanReverse(storage.Prefix(prefixTrade), func(_, value []byte) error {
		if limit > 0 && len(trades) >= limit {
			return storage.ErrStopScan
		}
		var t Trade
		if err := storage.Decode(value, &t); err != nil {
			return err
		}
		trades = append(trades, &t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return trades, nil
}
