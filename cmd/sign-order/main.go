package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

func main() {
	if err := NewCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// CLI produces keys, fee-signer order signatures and signed calls for the node API.
type CLI struct {
	root  *cobra.Command
	clock util.Clock

	name    string
	version string
	chainID int64
}

func NewCLI() *CLI {
	def := crypto.DefaultDomain()
	cli := &CLI{clock: util.RealClock{}}
	cli.root = &cobra.Command{
		Use:           "sign-order",
		Short:         "Offline signing for the NFT marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cli.root.PersistentFlags().StringVar(&cli.name, "domain-name", def.Name, "EIP-712 domain name")
	cli.root.PersistentFlags().StringVar(&cli.version, "domain-version", def.Version, "EIP-712 domain version")
	cli.root.PersistentFlags().Int64Var(&cli.chainID, "chain-id", def.ChainID.Int64(), "EIP-712 chain id")

	cli.root.AddCommand(cli.keygenCmd(), cli.orderCmd(), cli.callCmd())
	return cli
}

func (cli *CLI) Execute() error { return cli.root.Execute() }

func (cli *CLI) domain() crypto.EIP712Domain {
	return crypto.EIP712Domain{
		Name:    cli.name,
		Version: cli.version,
		ChainID: big.NewInt(cli.chainID),
	}
}

func (cli *CLI) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"address":     signer.Address().Hex(),
				"private_key": signer.PrivateKeyHex(),
			})
		},
	}
}

type orderFlags struct {
	key         string
	side        string
	collection  uint32
	item        uint32
	price       string
	fee         string
	expiresIn   time.Duration
	escrowAgent string
	nonce       string
	typedData   bool
}

func (cli *CLI) orderCmd() *cobra.Command {
	var f orderFlags
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Sign an order as the fee signer and print its payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.key == "" {
				f.key = os.Getenv("FEE_SIGNER_KEY")
			}
			return cli.signOrder(cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.key, "key", "", "fee signer private key hex (default $FEE_SIGNER_KEY)")
	fl.StringVar(&f.side, "side", "ask", "ask or bid")
	fl.Uint32Var(&f.collection, "collection", 0, "collection id")
	fl.Uint32Var(&f.item, "item", 0, "item id")
	fl.StringVar(&f.price, "price", "", "price in base units")
	fl.StringVar(&f.fee, "fee", "0", "fee in base units")
	fl.DurationVar(&f.expiresIn, "expires-in", time.Hour, "time until the order expires")
	fl.StringVar(&f.escrowAgent, "escrow-agent", "", "escrow agent address; empty pays the seller directly")
	fl.StringVar(&f.nonce, "nonce", "", "nonce hex; random 16 bytes when empty")
	fl.BoolVar(&f.typedData, "typed-data", false, "print eth_signTypedData_v4 JSON instead of signing")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func (cli *CLI) signOrder(w io.Writer, f orderFlags) error {
	order, err := f.order(cli.clock)
	if err != nil {
		return err
	}
	if f.typedData {
		out, err := crypto.NewEIP712Signer(cli.domain()).OrderMessageToJSON(order.Message().ToEIP712())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	}

	signer, err := crypto.FromPrivateKeyHex(f.key)
	if err != nil {
		return fmt.Errorf("fee signer key: %w", err)
	}
	digest, err := transaction.NewEIP712Encoder(cli.domain()).Encode(order.Message())
	if err != nil {
		return err
	}
	if order.Signature, err = signer.Sign(digest); err != nil {
		return err
	}
	return writeJSON(w, transaction.FromOrder(order))
}

func (f orderFlags) order(clock util.Clock) (*transaction.Order, error) {
	side := transaction.OrderType(f.side)
	if side != transaction.OrderTypeAsk && side != transaction.OrderTypeBid {
		return nil, fmt.Errorf("unknown side %q", f.side)
	}
	price, err := uint256.FromDecimal(f.price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	fee, err := uint256.FromDecimal(f.fee)
	if err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}

	var nonce []byte
	if f.nonce == "" {
		nonce, err = crypto.GenerateNonce(16)
	} else {
		nonce, err = hexutil.Decode(f.nonce)
	}
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	order := &transaction.Order{
		Type:       side,
		Collection: f.collection,
		Item:       f.item,
		Price:      price,
		Fee:        fee,
		ExpiresAt:  util.Moment(clock.Now().Add(f.expiresIn)),
		Nonce:      nonce,
	}
	if f.escrowAgent != "" {
		if !common.IsHexAddress(f.escrowAgent) {
			return nil, fmt.Errorf("escrow agent %q is not an address", f.escrowAgent)
		}
		agent := common.HexToAddress(f.escrowAgent)
		if agent == (common.Address{}) {
			return nil, fmt.Errorf("escrow agent must not be the zero address; omit the flag for none")
		}
		order.EscrowAgent = &agent
	}
	return order, nil
}

type callFlags struct {
	key        string
	typ        string
	orderFile  string
	execution  string
	cancelSide string
	collection uint32
	item       uint32
	price      string
	account    string
	escrowID   uint64
	deadlineIn time.Duration
}

func (cli *CLI) callCmd() *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Wrap an operation in a caller-signed envelope for POST /api/v1/calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.key == "" {
				f.key = os.Getenv("CALLER_KEY")
			}
			return cli.signCall(cmd.OutOrStdout(), cmd.InOrStdin(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.key, "key", "", "caller private key hex (default $CALLER_KEY)")
	fl.StringVar(&f.typ, "type", string(transaction.CallCreateOrder), "call type")
	fl.StringVar(&f.orderFile, "order", "-", "order payload JSON file for create_order; - reads stdin")
	fl.StringVar(&f.execution, "execution", string(transaction.AllowCreation), "allow_creation or force")
	fl.StringVar(&f.cancelSide, "cancel-side", "ask", "side of the order to cancel")
	fl.Uint32Var(&f.collection, "collection", 0, "collection id for cancel_order")
	fl.Uint32Var(&f.item, "item", 0, "item id for cancel_order")
	fl.StringVar(&f.price, "price", "", "bid price for cancel_order")
	fl.StringVar(&f.account, "account", "", "address for role setters")
	fl.Uint64Var(&f.escrowID, "escrow-id", 0, "deposit id for release_escrow")
	fl.DurationVar(&f.deadlineIn, "deadline-in", time.Minute, "time until the node rejects the call; 0 disables")
	return cmd
}

func (cli *CLI) signCall(w io.Writer, stdin io.Reader, f callFlags) error {
	signer, err := crypto.FromPrivateKeyHex(f.key)
	if err != nil {
		return fmt.Errorf("caller key: %w", err)
	}

	call := &transaction.Call{Type: transaction.CallType(f.typ)}
	if f.deadlineIn > 0 {
		call.Deadline = util.Moment(cli.clock.Now().Add(f.deadlineIn))
	}
	switch call.Type {
	case transaction.CallCreateOrder:
		payload, err := readOrder(stdin, f.orderFile)
		if err != nil {
			return err
		}
		call.Order = payload
		call.Execution = transaction.ExecutionMode(f.execution)
	case transaction.CallCancelOrder:
		call.Cancel = &transaction.CancelPayload{
			Type:       transaction.OrderType(f.cancelSide),
			Collection: f.collection,
			Item:       f.item,
			Price:      f.price,
		}
	case transaction.CallForceSetAuthority, transaction.CallSetFeeSigner, transaction.CallSetPayoutAddress:
		call.Account = f.account
	case transaction.CallReleaseEscrow:
		call.EscrowID = f.escrowID
	}
	if err := call.Validate(); err != nil {
		return err
	}

	sc, err := transaction.SignCall(signer, call)
	if err != nil {
		return err
	}
	return writeJSON(w, sc)
}

func readOrder(stdin io.Reader, path string) (*transaction.OrderPayload, error) {
	r := stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}
	var p transaction.OrderPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("order payload: %w", err)
	}
	return &p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
