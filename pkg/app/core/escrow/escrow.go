package escrow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/storage"
)

// HoldReason tags escrowed funds on the destination account
const HoldReason account.HoldReason = "escrow"

var (
	ErrDepositNotFound = errors.New("escrow deposit not found")
	ErrNotAgent        = errors.New("caller is not the escrow agent")
)

const prefixDeposit = "escrow"

// Deposit is money paid to Destination but held until Agent releases it
type Deposit struct {
	ID          uint64         `json:"id"`
	Depositor   common.Address `json:"depositor"`
	Destination common.Address `json:"destination"`
	Agent       common.Address `json:"agent"`
	Amount      *uint256.Int   `json:"amount"`
}

func depositKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s:%s", prefixDeposit, storage.Uint64(id)))
}

// Escrow routes payments through an agent
type Escrow struct {
	rw     storage.ReadWriter
	ledger *account.Ledger
}

func New(rw storage.ReadWriter, ledger *account.Ledger) *Escrow {
	return &Escrow{rw: rw, ledger: ledger}
}

// MakeDeposit pays amount from depositor to destination and immediately holds
// it there under HoldReason until agent releases it.
func (e *Escrow) MakeDeposit(depositor, destination common.Address, amount *uint256.Int, agent common.Address) error {
	if err := e.ledger.Transfer(depositor, destination, amount, false); err != nil {
		return fmt.Errorf("escrow transfer: %w", err)
	}
	if err := e.ledger.Hold(HoldReason, destination, amount); err != nil {
		return fmt.Errorf("escrow hold: %w", err)
	}

	id, err := storage.NextSeq(e.rw, prefixDeposit)
	if err != nil {
		return err
	}
	return e.rw.Put(depositKey(id), &Deposit{
		ID:          id,
		Depositor:   depositor,
		Destination: destination,
		Agent:       agent,
		Amount:      new(uint256.Int).Set(amount),
	})
}

// Release lifts the hold of deposit id. Only its agent may call it.
func (e *Escrow) Release(caller common.Address, id uint64) (*Deposit, error) {
	var d Deposit
	found, err := e.rw.Get(depositKey(id), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("deposit %d: %w", id, ErrDepositNotFound)
	}
	if d.Agent != caller {
		return nil, fmt.Errorf("deposit %d: %w", id, ErrNotAgent)
	}

	if _, err := e.ledger.Release(HoldReason, d.Destination, d.Amount, account.Exact); err != nil {
		return nil, fmt.Errorf("escrow release: %w", err)
	}
	if err := e.rw.Delete(depositKey(id)); err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns every outstanding deposit in creation order
func List(r storage.Reader) ([]*Deposit, error) {
	var out []*Deposit
	err := r.Scan(storage.Prefix(prefixDeposit), func(_, value []byte) error {
		var d Deposit
		if err := storage.Decode(value, &d); err != nil {
			return err
		}
		out = append(out, &d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list escrow deposits: %w", err)
	}
	return out, nil
}
