package marketplace

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

// Receipt is the outcome of a dispatched call
type Receipt struct {
	Call     transaction.CallType `json:"call"`
	Caller   common.Address       `json:"caller"`
	Trade    *Trade               `json:"trade,omitempty"`    // create_order that matched
	Previous *common.Address      `json:"previous,omitempty"` // role setters
}

// Execute dispatches a decoded call on behalf of caller
func (e *Engine) Execute(caller common.Address, c *transaction.Call) (*Receipt, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rcpt := &Receipt{Call: c.Type, Caller: caller}

	switch c.Type {
	case transaction.CallCreateOrder:
		order, err := c.Order.ToOrder()
		if err != nil {
			return nil, err
		}
		rcpt.Trade, err = e.CreateOrder(caller, order, c.Execution)
		if err != nil {
			return nil, err
		}

	case transaction.CallCancelOrder:
		side, price, err := c.Cancel.Target()
		if err != nil {
			return nil, err
		}
		if err := e.CancelOrder(caller, side, c.Cancel.Collection, c.Cancel.Item, price); err != nil {
			return nil, err
		}

	case transaction.CallForceSetAuthority, transaction.CallSetFeeSigner, transaction.CallSetPayoutAddress:
		addr, err := c.ParseAccount()
		if err != nil {
			return nil, err
		}
		setter := map[transaction.CallType]func(caller, addr common.Address) (common.Address, error){
			transaction.CallForceSetAuthority: e.ForceSetAuthority,
			transaction.CallSetFeeSigner:      e.SetFeeSignerAddress,
			transaction.CallSetPayoutAddress:  e.SetPayoutAddress,
		}[c.Type]
		prev, err := setter(caller, addr)
		if err != nil {
			return nil, err
		}
		if prev != (common.Address{}) {
			rcpt.Previous = &prev
		}

	case transaction.CallReleaseEscrow:
		if err := e.ReleaseEscrow(caller, c.EscrowID); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unknown call type %q", ErrInvalidOrder, c.Type)
	}
	return rcpt, nil
}

// ExecuteRaw opens a JSON-encoded SignedCall and executes it for the
// signing caller. This is the mempool executor's entry point.
func (e *Engine) ExecuteRaw(raw []byte) (*Receipt, error) {
	var sc transaction.SignedCall
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	caller, c, err := sc.Open(util.Moment(e.clock.Now()))
	if err != nil {
		return nil, err
	}
	return e.Execute(caller, c)
}
