package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/api"
	"github.com/uhyunpark/nftmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/app/marketplace"
	"github.com/uhyunpark/nftmarket/pkg/broker"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/p2p"
	"github.com/uhyunpark/nftmarket/pkg/storage"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	level := zapcore.InfoLevel
	if os.Getenv("VERBOSE") == "true" {
		level = zapcore.DebugLevel
	}
	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile == "" {
		logger, err = util.NewLogger(level)
	} else {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if cfg.Market.Root == (common.Address{}) {
		sugar.Warnw("root_unset", "hint", "set ROOT_ADDRESS to allow force_set_authority")
	}

	// ---- State ----
	var store *storage.Store
	if cfg.Node.DBPath == "" {
		store, err = storage.OpenInMemory()
	} else {
		store, err = storage.Open(cfg.Node.DBPath)
	}
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Marketplace ----
	domain := crypto.EIP712Domain{
		Name:    cfg.Signing.Name,
		Version: cfg.Signing.Version,
		ChainID: cfg.Signing.ChainID,
	}
	engine := marketplace.NewEngine(
		marketplace.Config{
			MinOrderDuration: uint64(cfg.Market.MinOrderDuration.Milliseconds()),
			MaxNonceLen:      cfg.Market.MaxNonceLen,
			Root:             cfg.Market.Root,
		},
		store,
		marketplace.StateBackend{ExistentialDeposit: cfg.Market.ExistentialDeposit},
		transaction.NewEIP712Encoder(domain),
		crypto.EthVerifier{},
		util.RealClock{},
	)
	engine.SetLogger(sugar.Named("market"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engine.SetMetrics(marketplace.NewMetrics(reg))

	pool := mempool.New(cfg.Node.MempoolSize)
	pool.RegisterMetrics(reg)

	// ---- API Server ----
	apiServer := api.NewServer(engine, pool, logger, api.Options{
		DevMode:     cfg.Node.DevMode,
		CORSOrigins: cfg.Node.CORSOrigins,
		Gatherer:    reg,
	})
	publishers := marketplace.MultiPublisher{apiServer.Hub()}

	// ---- Event relays (optional) ----
	if cfg.P2P.Listen != "" {
		net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer net.Close()
		net.SetHandler(func(_ context.Context, from peer.ID, ev p2p.EventWire) {
			sugar.Debugw("peer_event", "from", from.String(), "origin", ev.Origin, "seq", ev.Seq, "type", ev.Type)
			apiServer.Hub().BroadcastToChannel("peers", api.WSMessage{Type: ev.Type, Channel: "peers", Data: rawJSON(ev.Data)})
		})
		publishers = append(publishers, net)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, sugar.Named("kafka"))
		go func() {
			if err := producer.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Errorw("kafka_producer_stopped", "err", err)
			}
		}()
		publishers = append(publishers, producer)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	engine.SetPublisher(publishers)

	// ---- Executor ----
	// The mempool is the only writer: calls run one at a time in arrival order.
	go func() {
		err := pool.Run(ctx, func(raw []byte) (any, error) {
			return engine.ExecuteRaw(raw)
		})
		if err != nil && ctx.Err() == nil {
			sugar.Fatalw("executor_failed", "err", err)
		}
	}()

	go func() {
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"db_path", cfg.Node.DBPath,
		"dev_mode", cfg.Node.DevMode,
		"min_order_duration_ms", cfg.Market.MinOrderDuration.Milliseconds(),
		"chain_id", cfg.Signing.ChainID.String())

	// Progress logging loop
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("node_stopping")
			return
		case <-ticker.C:
			sugar.Infow("node_status", "mempool_size", pool.Len())
		}
	}
}

// rawJSON passes gossiped payloads through to websocket clients undecoded
func rawJSON(b []byte) json.RawMessage {
	if !json.Valid(b) {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
