package p2p

import (
	"context"
	"sync"
	"sync/atomic"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftmarket/pkg/app/marketplace"
)

const topicEvents = "nftmarket-events"

// Handler receives events gossiped by other nodes
type Handler func(ctx context.Context, from peer.ID, ev EventWire)

// Libp2pNet relays committed marketplace events over gossipsub. It is a
// marketplace.Publisher; events received from peers go to the handler.
type Libp2pNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger
	ctx context.Context

	tEvents   *pubsub.Topic
	subEvents *pubsub.Subscription
	seq       atomic.Uint64

	muH     sync.RWMutex
	handler Handler
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	net := &Libp2pNet{h: h, ps: ps, log: log, ctx: ctx}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if net.tEvents, err = ps.Join(topicEvents); err != nil {
		h.Close()
		return nil, err
	}
	if net.subEvents, err = net.tEvents.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	go net.handleEvents(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) SetHandler(h Handler) { n.muH.Lock(); n.handler = h; n.muH.Unlock() }

func (n *Libp2pNet) Host() host.Host { return n.h }

// Peers returns the peers currently subscribed to the event topic
func (n *Libp2pNet) Peers() []peer.ID { return n.tEvents.ListPeers() }

// Publish gossips a committed event. Delivery is best effort; failures are
// logged, never returned to the committing call.
func (n *Libp2pNet) Publish(ev marketplace.Event) {
	seq := n.seq.Add(1)
	data, err := encodeEvent(n.h.ID().String(), seq, ev)
	if err != nil {
		n.log.Warnw("event_encode_failed", "type", ev.Type, "err", err)
		return
	}
	if err := n.tEvents.Publish(n.ctx, data); err != nil {
		n.log.Warnw("event_publish_failed", "type", ev.Type, "seq", seq, "err", err)
	}
}

func (n *Libp2pNet) Close() error {
	n.subEvents.Cancel()
	n.tEvents.Close()
	return n.h.Close()
}

// inbound

func (n *Libp2pNet) handleEvents(ctx context.Context) {
	for {
		msg, err := n.subEvents.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w EventWire
		if err := gobDecode(msg.Data, &w); err != nil {
			n.log.Debugw("event_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}

		n.muH.RLock()
		h := n.handler
		n.muH.RUnlock()
		if h != nil {
			h(ctx, msg.ReceivedFrom, w)
		}
	}
}
