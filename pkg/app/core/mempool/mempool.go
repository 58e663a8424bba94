package mempool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
)

var (
	ErrFull   = errors.New("mempool full")
	ErrClosed = errors.New("mempool closed")
)

// Class buckets a call for metrics.
type Class string

const (
	ClassAdmin   Class = "admin"
	ClassCancel  Class = "cancel"
	ClassOrder   Class = "order"
	ClassInvalid Class = "invalid"
)

// ClassifyRaw classifies a raw signed call by its call type:
//
//	{"call":{"type":"create_order",...},...}  -> ClassOrder
//	{"call":{"type":"cancel_order",...},...}  -> ClassCancel
//	role setters, release_escrow              -> ClassAdmin
//
// Anything that does not parse is ClassInvalid; the executor rejects it.
func ClassifyRaw(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return ClassInvalid
	}

	var envelope struct {
		Call struct {
			Type transaction.CallType `json:"type"`
		} `json:"call"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return ClassInvalid
	}

	switch envelope.Call.Type {
	case transaction.CallCreateOrder:
		return ClassOrder
	case transaction.CallCancelOrder:
		return ClassCancel
	case transaction.CallForceSetAuthority, transaction.CallSetFeeSigner,
		transaction.CallSetPayoutAddress, transaction.CallReleaseEscrow:
		return ClassAdmin
	default:
		return ClassInvalid
	}
}

// Result is the outcome of one executed call
type Result struct {
	Value any
	Err   error
}

// Handler executes one raw call
type Handler func(raw []byte) (any, error)

// Ticket is handed out on admission and resolves once the call ran.
type Ticket struct {
	done chan Result
}

// Wait blocks until the call was executed or ctx is done. Giving up on the
// wait does not withdraw the call.
func (t *Ticket) Wait(ctx context.Context) (any, error) {
	select {
	case r := <-t.done:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	class  Class
	raw    []byte
	ticket *Ticket
}

// Mempool is a bounded FIFO of raw calls drained by a single executor, so
// calls run one at a time in admission order.
type Mempool struct {
	mu       sync.Mutex
	queue    []*entry
	capacity int
	closed   bool
	notify   chan struct{}

	depth    prometheus.Gauge
	admitted *prometheus.CounterVec
}

// New returns a mempool holding at most capacity pending calls (0 = unbounded)
func New(capacity int) *Mempool {
	return &Mempool{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// RegisterMetrics exports the queue depth and admissions per class on reg
func (m *Mempool) RegisterMetrics(reg prometheus.Registerer) {
	m.depth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nftmarket",
		Subsystem: "mempool",
		Name:      "depth",
		Help:      "Calls waiting for the executor.",
	})
	m.admitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nftmarket",
		Subsystem: "mempool",
		Name:      "admitted_total",
		Help:      "Calls admitted, by class.",
	}, []string{"class"})
	reg.MustRegister(m.depth, m.admitted)
}

// Submit copies raw into the queue
func (m *Mempool) Submit(raw []byte) (*Ticket, error) {
	e := &entry{
		class:  ClassifyRaw(raw),
		raw:    append([]byte(nil), raw...),
		ticket: &Ticket{done: make(chan Result, 1)},
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.capacity > 0 && len(m.queue) >= m.capacity {
		m.mu.Unlock()
		return nil, ErrFull
	}
	m.queue = append(m.queue, e)
	m.setDepth()
	m.mu.Unlock()

	if m.admitted != nil {
		m.admitted.WithLabelValues(string(e.class)).Inc()
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return e.ticket, nil
}

// Len returns the number of pending calls
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// next pops the oldest pending call, nil when empty
func (m *Mempool) next() *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	e := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.setDepth()
	return e
}

func (m *Mempool) setDepth() {
	if m.depth != nil {
		m.depth.Set(float64(len(m.queue)))
	}
}

// Run executes queued calls with h until ctx is done. It must be the only
// consumer. On return the mempool is closed and pending tickets fail with
// ErrClosed.
func (m *Mempool) Run(ctx context.Context, h Handler) error {
	defer m.close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e := m.next(); e != nil {
			v, err := h(e.raw)
			e.ticket.done <- Result{Value: v, Err: err}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.notify:
		}
	}
}

func (m *Mempool) close() {
	m.mu.Lock()
	m.closed = true
	pending := m.queue
	m.queue = nil
	m.setDepth()
	m.mu.Unlock()

	for _, e := range pending {
		e.ticket.done <- Result{Err: ErrClosed}
	}
}
