// Package main runs the ritual desk as an HTTP service:
// - Trading: open / abort sessions against the exchange
// - Watching: price + position polling until settlement
// - Serving: session, history, crown, and luck endpoints
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/hyperliquid"
	"perp-ritual-lab/internal/observability"
	"perp-ritual-lab/internal/pricefeed"
	"perp-ritual-lab/internal/ritual"
	"perp-ritual-lab/internal/session"
	"perp-ritual-lab/internal/signing"
	"perp-ritual-lab/internal/storage"
	chstore "perp-ritual-lab/internal/storage/clickhouse"
	"perp-ritual-lab/internal/storage/memory"
	"perp-ritual-lab/internal/storage/migrations"
	pgstore "perp-ritual-lab/internal/storage/postgres"
)

// Server glues the desk, the watch loop, and the HTTP API together.
type Server struct {
	desk     *ritual.Desk
	sessions storage.SessionStore
	crowns   storage.CrownStore
	luck     storage.LuckTimeseriesStore

	quoter       pricefeed.Quoter
	positions    session.PositionChecker
	runnerConfig session.RunnerConfig
	candles      *pricefeed.CandleSeries
	info         *hyperliquid.Info
	symbol       string
	logger       *log.Logger

	baseCtx context.Context
	started time.Time

	mu          sync.Mutex
	watching    bool
	watchCancel context.CancelFunc
}

// allStores holds the storage implementations behind the desk.
type allStores struct {
	sessions storage.SessionStore
	crowns   storage.CrownStore
	luck     storage.LuckTimeseriesStore
}

func main() {
	// .env is optional; system env wins.
	_ = godotenv.Load()

	apiURL := flag.String("api-url", envOr("EXCHANGE_API_URL", hyperliquid.DefaultAPIURL), "Exchange REST API URL")
	wsURL := flag.String("ws-url", envOr("EXCHANGE_WS_URL", pricefeed.DefaultWSEndpoint), "Exchange WebSocket URL")
	walletRPC := flag.String("wallet-rpc", os.Getenv("WALLET_RPC_URL"), "Wallet provider JSON-RPC endpoint")
	walletAddress := flag.String("wallet-address", os.Getenv("WALLET_ADDRESS"), "Signing wallet address (0x-prefixed)")
	symbol := flag.String("symbol", envOr("SYMBOL", "BTC"), "Instrument symbol to trade")
	mainnet := flag.Bool("mainnet", true, "Sign for mainnet (false targets testnet)")
	backendURL := flag.String("backend-url", os.Getenv("BACKEND_URL"), "Optional backend URL for trade snapshots")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	listenAddr := flag.String("listen-addr", ":8080", "HTTP listen address")
	tickInterval := flag.Duration("tick-interval", 3*time.Second, "Price watch cadence")
	positionInterval := flag.Duration("position-interval", 15*time.Second, "Open-position poll cadence")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *walletRPC == "" {
		logger.Fatal("--wallet-rpc is required")
	}
	if *walletAddress == "" {
		logger.Fatal("--wallet-address is required")
	}
	if _, err := signing.ParseAddress(*walletAddress); err != nil {
		logger.Fatalf("Invalid --wallet-address: %v", err)
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Exchange plumbing: shared HTTP client, metadata reader, signer,
	// order gateway.
	client := hyperliquid.NewClient(*apiURL)
	info := hyperliquid.NewInfo(client)

	instrument, err := info.ResolveInstrument(ctx, *symbol)
	if err != nil {
		logger.Fatalf("Failed to resolve instrument %s: %v", *symbol, err)
	}
	logger.Printf("Trading %s (asset %d, %d size decimals)", instrument.Symbol, instrument.AssetIndex, instrument.SzDecimals)

	wallet := signing.NewBridgeWallet(*walletRPC, *walletAddress)
	signer := signing.NewSigner(wallet, *mainnet, log.New(os.Stdout, "[signing] ", log.LstdFlags))
	gateway := hyperliquid.NewGateway(client, info, signer, instrument, log.New(os.Stdout, "[exchange] ", log.LstdFlags))

	var reporter ritual.TradeReporter
	if *backendURL != "" {
		reporter = ritual.NewHTTPReporter(*backendURL)
	}

	deskConfig := ritual.DefaultConfig(*symbol, *walletAddress)
	deskConfig.TickInterval = *tickInterval
	desk := ritual.NewDesk(gateway, info, stores.sessions, stores.crowns, stores.luck, reporter, deskConfig, log.New(os.Stdout, "[desk] ", log.LstdFlags))

	// Minute candles for the run chart: snapshot on watch start, live
	// tick merge through the quoter tap.
	candles := pricefeed.NewCandleSeries(60_000, 120)
	quoter := pricefeed.NewTappedQuoter(
		createQuoter(ctx, *wsURL, *symbol, info, logger),
		func(price float64) { candles.Apply(time.Now().UnixMilli(), price) },
	)

	server := &Server{
		desk:      desk,
		sessions:  stores.sessions,
		crowns:    stores.crowns,
		luck:      stores.luck,
		quoter:    quoter,
		positions: &positionChecker{info: info, address: *walletAddress, symbol: *symbol},
		runnerConfig: session.RunnerConfig{
			TickInterval:     *tickInterval,
			PositionInterval: *positionInterval,
		},
		candles: candles,
		info:    info,
		symbol:  *symbol,
		logger:  logger,
		baseCtx: ctx,
		started: time.Now(),
	}

	// Pick up a session interrupted by a restart.
	resumed, err := desk.Resume(ctx)
	if err != nil {
		logger.Fatalf("Failed to resume session: %v", err)
	}
	if resumed {
		server.startWatch()
	}

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	httpServer := &http.Server{Addr: *listenAddr, Handler: server.routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("Listening on %s", *listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("HTTP server error: %v", err)
	}

	close(done)
	logger.Println("Shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// createStores builds the storage layer, running migrations on the real
// databases.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			sessions: memory.NewSessionStore(),
			crowns:   memory.NewCrownStore(),
			luck:     memory.NewLuckTimeseriesStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}

	stores := &allStores{
		sessions: pgstore.NewSessionStore(pool),
		crowns:   pgstore.NewCrownStore(pool),
		luck:     chstore.NewLuckTimeseriesStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// createQuoter prefers the websocket feed with REST polling as fallback;
// a feed connection failure at startup degrades to polling only.
func createQuoter(ctx context.Context, wsURL, symbol string, info *hyperliquid.Info, logger *log.Logger) pricefeed.Quoter {
	polling := pricefeed.NewPollingQuoter(info, symbol)

	feedConfig := pricefeed.DefaultConfig()
	feedConfig.Endpoint = wsURL
	feed, err := pricefeed.NewFeed(ctx, symbol, feedConfig, log.New(os.Stdout, "[pricefeed] ", log.LstdFlags))
	if err != nil {
		logger.Printf("Websocket feed unavailable, polling only: %v", err)
		return polling
	}
	return pricefeed.NewFallbackQuoter(feed, polling, logger)
}

// positionChecker adapts the account reader to the watch loop.
type positionChecker struct {
	info    *hyperliquid.Info
	address string
	symbol  string
}

func (p *positionChecker) OpenPositionSize(ctx context.Context) (float64, error) {
	state, err := p.info.AccountState(ctx, p.address, p.symbol)
	if err != nil {
		return 0, err
	}
	return state.PositionSize, nil
}

// startWatch launches the settlement watcher for the active session.
// No-op when a watcher is already running or no session is active.
func (s *Server) startWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watching {
		return
	}
	engine, err := s.desk.Engine()
	if err != nil {
		return
	}

	watchCtx, cancel := context.WithCancel(s.baseCtx)
	s.watching = true
	s.watchCancel = cancel

	go s.loadCandleSnapshot(watchCtx)

	runner := session.NewRunner(engine, s.quoter, s.positions, s.sessions, s.runnerConfig, log.New(os.Stdout, "[watch] ", log.LstdFlags))
	runner.OnSettle = func(ctx context.Context, snap domain.TradeSession) {
		s.desk.Finalize(ctx, snap)
	}

	go func() {
		defer cancel()
		runner.Run(watchCtx)
		s.mu.Lock()
		s.watching = false
		s.watchCancel = nil
		s.mu.Unlock()
	}()
}

// loadCandleSnapshot backfills the candle series from the exchange so
// the chart has history before the first live tick.
func (s *Server) loadCandleSnapshot(ctx context.Context) {
	now := time.Now()
	snapshot, err := s.info.CandleSnapshot(ctx, s.symbol, "1m", now.Add(-2*time.Hour).UnixMilli(), now.UnixMilli())
	if err != nil {
		s.logger.Printf("candle snapshot failed, chart starts from live ticks: %v", err)
		return
	}
	s.candles.Load(snapshot)
}

// stopWatch cancels the watcher; used before an abort settles the
// session out of band.
func (s *Server) stopWatch() {
	s.mu.Lock()
	cancel := s.watchCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	health := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
	mux.HandleFunc("/health", health)
	mux.HandleFunc("/healthz", health)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/abort", s.handleAbort)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/crowns", s.handleCrowns)
	mux.HandleFunc("/api/luck", s.handleLuck)
	mux.HandleFunc("/api/candles", s.handleCandles)

	return mux
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status         string `json:"status"`
	Symbol         string `json:"symbol"`
	Uptime         string `json:"uptime"`
	SessionRunning bool   `json:"session_running"`
	Watching       bool   `json:"watching"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	_, running := s.desk.CurrentSession()
	s.mu.Lock()
	watching := s.watching
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         "running",
		Symbol:         s.symbol,
		Uptime:         time.Since(s.started).String(),
		SessionRunning: running,
		Watching:       watching,
	})
}

// OpenRequest is the JSON body for POST /api/session.
type OpenRequest struct {
	Side       string  `json:"side"`
	MarginUSD  float64 `json:"margin_usd"`
	Leverage   float64 `json:"leverage"`
	TPMultiple float64 `json:"tp_multiple"`
}

// handleSession serves GET (current session) and POST (open).
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sess, ok := s.desk.CurrentSession()
		if !ok {
			writeError(w, http.StatusNotFound, "no running session")
			return
		}
		writeJSON(w, http.StatusOK, ritual.Snapshot(&sess, s.symbol))

	case http.MethodPost:
		var req OpenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		sess, err := s.desk.Open(r.Context(), session.OpenParams{
			Side:       domain.TradeSide(req.Side),
			MarginUSD:  req.MarginUSD,
			Leverage:   req.Leverage,
			TPMultiple: req.TPMultiple,
		})
		if err != nil {
			writeError(w, openErrorStatus(err), err.Error())
			return
		}

		s.startWatch()
		writeJSON(w, http.StatusCreated, ritual.Snapshot(sess, s.symbol))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func openErrorStatus(err error) int {
	switch {
	case errors.Is(err, ritual.ErrInvalidParams),
		errors.Is(err, ritual.ErrBelowMinNotional):
		return http.StatusBadRequest
	case errors.Is(err, ritual.ErrSessionActive),
		errors.Is(err, ritual.ErrDailyLimitReached):
		return http.StatusConflict
	case errors.Is(err, ritual.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The watcher polls a settled engine forever; stop it before the
	// abort settles the session from this request.
	s.stopWatch()

	snap, err := s.desk.Abort(r.Context())
	if errors.Is(err, ritual.ErrNoSession) {
		writeError(w, http.StatusNotFound, "no running session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ritual.Snapshot(&snap, s.symbol))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	sessions, err := s.sessions.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snaps := make([]ritual.TradeSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		snaps = append(snaps, ritual.Snapshot(sess, s.symbol))
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessions, err := s.sessions.History(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ritual.Summarize(sessions, time.Now()))
}

// CandleView is the JSON shape of one OHLC bucket.
type CandleView struct {
	OpenTimeMs int64   `json:"open_time_ms"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	candles := s.candles.Candles()
	views := make([]CandleView, 0, len(candles))
	for _, c := range candles {
		views = append(views, CandleView{OpenTimeMs: c.OpenTimeMs, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close})
	}
	writeJSON(w, http.StatusOK, views)
}

// CrownsResponse pairs the inventory with the latest award.
type CrownsResponse struct {
	Inventory map[string]int  `json:"inventory"`
	LastEvent *CrownEventView `json:"last_event,omitempty"`
}

// CrownEventView is the JSON shape of one award.
type CrownEventView struct {
	AwardedTier  string   `json:"awarded_tier"`
	AwardedCount int      `json:"awarded_count"`
	Upgrades     []string `json:"upgrades"`
	CreatedAt    int64    `json:"created_at_ms"`
}

func (s *Server) handleCrowns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	inv, err := s.crowns.Inventory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := CrownsResponse{Inventory: make(map[string]int, len(inv))}
	for tier, units := range inv {
		resp.Inventory[string(tier)] = units
	}

	event, err := s.crowns.LastEvent(r.Context())
	if err == nil {
		upgrades := make([]string, 0, len(event.Upgrades))
		for _, tier := range event.Upgrades {
			upgrades = append(upgrades, string(tier))
		}
		resp.LastEvent = &CrownEventView{
			AwardedTier:  string(event.AwardedTierID),
			AwardedCount: event.AwardedCount,
			Upgrades:     upgrades,
			CreatedAt:    event.CreatedAt,
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLuck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	points, err := s.luck.BySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]LuckPointView, 0, len(points))
	for _, p := range points {
		views = append(views, LuckPointView{TimestampMs: p.TimestampMs, Price: p.Price, Luck: p.Luck})
	}
	writeJSON(w, http.StatusOK, views)
}

// LuckPointView is the JSON shape of one luck sample.
type LuckPointView struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	Luck        float64 `json:"luck"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
