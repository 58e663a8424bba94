package params

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

// Market holds the marketplace core parameters
type Market struct {
	// MinOrderDuration is how long past submission an order must stay valid.
	// An order is rejected unless expires_at > now + MinOrderDuration.
	MinOrderDuration   time.Duration
	MaxNonceLen        int          // bytes
	ExistentialDeposit *uint256.Int // smallest balance a new account may hold
	Root               common.Address
}

// Signing is the EIP-712 domain fee signers sign orders under
type Signing struct {
	Name    string
	Version string
	ChainID *big.Int
}

type Node struct {
	DBPath      string // empty runs on an in-memory store
	LogFile     string // empty logs to stdout only
	APIAddr     string
	DevMode     bool // enables /api/v1/dev/deposit and /api/v1/dev/mint
	CORSOrigins []string
	MempoolSize int
}

type P2P struct {
	Listen    string // multiaddr; empty disables gossip
	Bootstrap []string
}

type Kafka struct {
	Brokers []string // empty disables the producer
	Topic   string
}

type Config struct {
	Market  Market
	Signing Signing
	Node    Node
	P2P     P2P
	Kafka   Kafka
}

func Default() Config {
	return Config{
		Market: Market{
			MinOrderDuration:   time.Minute,
			MaxNonceLen:        64,
			ExistentialDeposit: uint256.NewInt(1),
		},
		Signing: Signing{
			Name:    "NFTMarket",
			Version: "1",
			ChainID: big.NewInt(1337),
		},
		Node: Node{
			DBPath:      "data/state",
			LogFile:     "data/node.log",
			APIAddr:     ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			MempoolSize: 10000,
		},
		Kafka: Kafka{Topic: "nftmarket-events"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if ms := getEnvInt("MIN_ORDER_DURATION_MS", -1); ms >= 0 {
		cfg.Market.MinOrderDuration = time.Duration(ms) * time.Millisecond
	}
	if n := getEnvInt("MAX_NONCE_LEN", 0); n > 0 {
		cfg.Market.MaxNonceLen = n
	}
	if ed := os.Getenv("EXISTENTIAL_DEPOSIT"); ed != "" {
		if v, err := uint256.FromDecimal(ed); err == nil {
			cfg.Market.ExistentialDeposit = v
		}
	}
	if root := os.Getenv("ROOT_ADDRESS"); common.IsHexAddress(root) {
		cfg.Market.Root = common.HexToAddress(root)
	}

	cfg.Signing.Name = getEnv("EIP712_NAME", cfg.Signing.Name)
	cfg.Signing.Version = getEnv("EIP712_VERSION", cfg.Signing.Version)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, ok := new(big.Int).SetString(id, 10); ok {
			cfg.Signing.ChainID = v
		}
	}

	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.Node.DBPath = v
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.Node.LogFile = v
	}
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	if dev := os.Getenv("DEV_MODE"); dev != "" {
		cfg.Node.DevMode = dev == "true"
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitList(origins)
	}
	if n := getEnvInt("MEMPOOL_SIZE", -1); n >= 0 {
		cfg.Node.MempoolSize = n
	}

	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	if bs := os.Getenv("P2P_BOOTSTRAP"); bs != "" {
		cfg.P2P.Bootstrap = splitList(bs)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
