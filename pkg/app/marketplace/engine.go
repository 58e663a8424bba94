package marketplace

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/storage"
	"github.com/uhyunpark/nftmarket/pkg/util"
	"go.uber.org/zap"
)

// Config holds the marketplace parameters
type Config struct {
	MinOrderDuration uint64         // ms an order must outlive its submission
	MaxNonceLen      int            // bytes; <= 0 selects the default
	Root             common.Address // only caller allowed to force the authority
}

// Engine runs the public marketplace operations. Every operation executes as
// one all-or-nothing unit over the store.
//
// Operations run one at a time, in the order they acquire the engine. The
// node feeds signed calls from a single mempool executor; dev helpers and
// tests may call in from other goroutines.
type Engine struct {
	mu sync.Mutex // held for a whole call, commit and publish included

	cfg       Config
	store     *storage.Store
	backend   Backend
	encoder   transaction.Encoder
	auth      *transaction.Authorizer
	clock     util.Clock
	publisher Publisher
	metrics   *Metrics
	logger    *zap.SugaredLogger
}

// NewEngine wires an engine. Publisher, metrics and logger default to no-ops.
func NewEngine(
	cfg Config,
	store *storage.Store,
	backend Backend,
	encoder transaction.Encoder,
	verifier transaction.Verifier,
	clock util.Clock,
) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		backend:   backend,
		encoder:   encoder,
		auth:      transaction.NewAuthorizer(verifier, cfg.MaxNonceLen),
		clock:     clock,
		publisher: MultiPublisher{},
		logger:    zap.NewNop().Sugar(),
	}
}

func (e *Engine) SetPublisher(p Publisher) { e.publisher = p }
func (e *Engine) SetMetrics(m *Metrics) { e.metrics = m }
func (e *Engine) SetLogger(l *zap.SugaredLogger) { e.logger = l }

// call is the state of one operation: collaborators bound to the staged
// batch plus the events to publish once it commits.
type call struct {
	Collaborators
	rw     storage.ReadWriter
	book   *orderbook.Book
	now    uint64
	events []Event
}

func (c *call) emit(t EventType, data any) {
	c.events = append(c.events, Event{Type: t, Data: data})
}

// run executes fn in a single staged update. Nothing fn wrote survives an
// error, and events are only published after commit.
func (e *Engine) run(name string, fn func(c *call) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []Event
	err := e.store.Update(func(rw storage.ReadWriter) error {
		c := &call{
			Collaborators: e.backend.Bind(rw),
			rw:            rw,
			book:          orderbook.New(rw),
			now:           util.Moment(e.clock.Now()),
		}
		if err := fn(c); err != nil {
			return err
		}
		events = c.events
		return nil
	})
	if err != nil {
		e.metrics.fail(name, err)
		e.logger.Debugw("call_failed", "call", name, "reason", Reason(err), "err", err)
		return err
	}

	for _, ev := range events {
		e.metrics.observe(ev)
		e.publisher.Publish(ev)
		e.logger.Infow("event", "call", name, "type", ev.Type)
	}
	return nil
}
