package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/uhyunpark/nftmarket/pkg/app/core/account"
	"github.com/uhyunpark/nftmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/nftmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/marketplace"
	"github.com/uhyunpark/nftmarket/pkg/util"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Options configures a Server
type Options struct {
	DevMode       bool                // expose /api/v1/dev/*
	CORSOrigins   []string            // allowed origins; empty allows none
	Gatherer      prometheus.Gatherer // served on /metrics when set
	SubmitTimeout time.Duration       // how long POST /calls waits for execution
	Clock         util.Clock          // stamps item views; defaults to RealClock
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine *marketplace.Engine
	pool   *mempool.Mempool
	router *mux.Router
	hub    *Hub
	opts   Options
	logger *zap.SugaredLogger
}

// NewServer creates a new API server. Calls posted to it are queued on pool;
// reads go straight to engine.
func NewServer(engine *marketplace.Engine, pool *mempool.Mempool, logger *zap.Logger, opts Options) *Server {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	s := &Server{
		engine: engine,
		pool:   pool,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		opts:   opts,
		logger: logger.Sugar().Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order book
	api.HandleFunc("/asks", s.handleGetAsks).Methods("GET")
	api.HandleFunc("/bids", s.handleGetBids).Methods("GET")
	api.HandleFunc("/items/{collection}/{item}", s.handleGetItem).Methods("GET")

	// Accounts, roles, history
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/roles", s.handleGetRoles).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/escrow", s.handleGetEscrow).Methods("GET")

	// Signed calls
	api.HandleFunc("/calls", s.handleSubmitCall).Methods("POST")

	if s.opts.DevMode {
		api.HandleFunc("/dev/deposit", s.handleDevDeposit).Methods("POST")
		api.HandleFunc("/dev/mint", s.handleDevMint).Methods("POST")
	}

	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub returns the WebSocket hub; it doubles as a marketplace.Publisher
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("server_starting", "addr", addr, "dev_mode", s.opts.DevMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetAsks(w http.ResponseWriter, r *http.Request) {
	asks, err := s.engine.Asks()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if asks == nil {
		asks = []*orderbook.Ask{}
	}
	respondJSON(w, asks)
}

func (s *Server) handleGetBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.engine.Bids()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if bids == nil {
		bids = []*orderbook.Bid{}
	}
	respondJSON(w, bids)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	collection, item, ok := itemVars(w, r)
	if !ok {
		return
	}

	it, found, err := s.engine.Item(collection, item)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, marketplace.Reason(marketplace.ErrItemNotFound), fmt.Sprintf("item %d/%d", collection, item))
		return
	}
	ask, _, err := s.engine.Ask(collection, item)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	bids, err := s.engine.ItemBids(collection, item)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if bids == nil {
		bids = []*orderbook.Bid{}
	}

	respondJSON(w, ItemInfo{
		Collection: it.Collection,
		Item:       it.ID,
		Owner:      it.Owner.Hex(),
		Locked:     it.Locked,
		Ask:        ask,
		Bids:       bids,
		Now:        util.Moment(s.opts.Clock.Now()),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid_address", addressStr)
		return
	}

	s.respondAccount(w, common.HexToAddress(addressStr))
}

func (s *Server) respondAccount(w http.ResponseWriter, addr common.Address) {
	acc, err := s.engine.Account(addr)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	info := AccountInfo{
		Address: acc.Address.Hex(),
		Free:    acc.FreeBalance(),
		Holds:   acc.Holds,
		Total:   acc.Total(),
	}
	if info.Holds == nil {
		info.Holds = map[account.HoldReason]*uint256.Int{}
	}
	respondJSON(w, info)
}

func (s *Server) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.engine.Roles()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	var info RolesInfo
	if roles.Authority != nil {
		info.Authority = roles.Authority.Hex()
	}
	if roles.FeeSigner != nil {
		info.FeeSigner = roles.FeeSigner.Hex()
	}
	if roles.Payout != nil {
		info.Payout = roles.Payout.Hex()
	}
	respondJSON(w, info)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", v)
			return
		}
		limit = n
	}

	trades, err := s.engine.RecentTrades(limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if trades == nil {
		trades = []*marketplace.Trade{}
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	deposits, err := s.engine.EscrowDeposits()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if deposits == nil {
		deposits = []*escrow.Deposit{}
	}
	respondJSON(w, deposits)
}

// handleSubmitCall queues a transaction.SignedCall and waits for its receipt
func (s *Server) handleSubmitCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "")
		return
	}
	if !json.Valid(body) {
		respondError(w, http.StatusBadRequest, marketplace.Reason(marketplace.ErrInvalidOrder), "body is not JSON")
		return
	}

	class := mempool.ClassifyRaw(body)
	ticket, err := s.pool.Submit(body)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SubmitTimeout)
	defer cancel()
	v, err := ticket.Wait(ctx)
	if err != nil {
		s.logger.Infow("call_rejected", "class", class, "reason", marketplace.Reason(err), "err", err)
		s.respondErr(w, err)
		return
	}

	s.logger.Infow("call_executed", "class", class, "bytes", len(body))
	respondJSON(w, v)
}

func (s *Server) handleDevDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid_address", req.Address)
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}

	addr := common.HexToAddress(req.Address)
	if err := s.engine.Fund(addr, amount); err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Infow("dev_deposit", "address", addr.Hex(), "amount", amount.Dec())
	s.respondAccount(w, addr)
}

func (s *Server) handleDevMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid_address", req.Owner)
		return
	}

	owner := common.HexToAddress(req.Owner)
	if err := s.engine.MintItem(req.Collection, req.Item, owner); err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Infow("dev_mint", "collection", req.Collection, "item", req.Item, "owner", owner.Hex())
	it, _, err := s.engine.Item(req.Collection, req.Item)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, it)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, NodeStatus{Status: "ok", MempoolSize: s.pool.Len(), DevMode: s.opts.DevMode})
}

// ==============================
// Helper Functions
// ==============================

func itemVars(w http.ResponseWriter, r *http.Request) (collection, item uint32, ok bool) {
	vars := mux.Vars(r)
	c, err := strconv.ParseUint(vars["collection"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_collection", vars["collection"])
		return 0, 0, false
	}
	i, err := strconv.ParseUint(vars["item"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_item", vars["item"])
		return 0, 0, false
	}
	return uint32(c), uint32(i), true
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

// StatusFor maps a call error to its HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, mempool.ErrFull), errors.Is(err, mempool.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, marketplace.ErrBadSignedMessage),
		errors.Is(err, marketplace.ErrNotAuthority),
		errors.Is(err, marketplace.ErrNotRoot),
		errors.Is(err, marketplace.ErrNotOrderCreatorOrAuthority),
		errors.Is(err, marketplace.ErrNotItemOwner),
		errors.Is(err, marketplace.ErrNotEscrowAgent):
		return http.StatusForbidden
	case errors.Is(err, marketplace.ErrItemNotFound),
		errors.Is(err, marketplace.ErrOrderNotFound),
		errors.Is(err, marketplace.ErrEscrowDepositNotFound):
		return http.StatusNotFound
	case errors.Is(err, marketplace.ErrAlreadyUsedNonce),
		errors.Is(err, marketplace.ErrOrderAlreadyExists),
		errors.Is(err, marketplace.ErrValidMatchMustExist),
		errors.Is(err, marketplace.ErrItemAlreadyLocked),
		errors.Is(err, marketplace.ErrAccountAlreadySet),
		errors.Is(err, marketplace.ErrInsufficientFunds),
		errors.Is(err, marketplace.ErrPayoutAddressNotSet),
		errors.Is(err, marketplace.ErrFeeSignerAddressNotSet):
		return http.StatusConflict
	case marketplace.Reason(err) != "internal":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	reason := marketplace.Reason(err)
	switch status {
	case http.StatusServiceUnavailable:
		reason = "unavailable"
	case http.StatusGatewayTimeout:
		reason = "timeout"
	case http.StatusInternalServerError:
		s.logger.Errorw("internal_error", "err", err)
	}
	respondError(w, status, reason, err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
