package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aristath/marketsim/internal/advisor"
	"github.com/aristath/marketsim/internal/archival"
	"github.com/aristath/marketsim/internal/chat"
	"github.com/aristath/marketsim/internal/config"
	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/engine"
	"github.com/aristath/marketsim/internal/httpapi"
	"github.com/aristath/marketsim/internal/marketdata"
	"github.com/aristath/marketsim/internal/marketdata/alphavantagedata"
	"github.com/aristath/marketsim/internal/marketdata/streamdata"
	"github.com/aristath/marketsim/internal/marketdata/tradernetdata"
	"github.com/aristath/marketsim/internal/persistence"
	"github.com/aristath/marketsim/internal/persistence/jsonfile"
	"github.com/aristath/marketsim/internal/persistence/postgres"
	"github.com/aristath/marketsim/internal/persistence/sqlite"
	"github.com/aristath/marketsim/internal/scheduler"
	"github.com/aristath/marketsim/internal/simulation"
	"github.com/aristath/marketsim/internal/timer"
	"github.com/aristath/marketsim/pkg/logger"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// benchmarkSymbol is the equity index every simulation is scored against.
const benchmarkSymbol = "SPY"

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	logger.SetGlobalLogger(log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Str("mode", cfg.Mode).Msg("starting marketsim")

	store, err := newPersistenceAdapter(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize persistence driver")
	}
	defer store.Close()

	manager := newManager(cfg, store, log)

	provider := newProvider(cfg, log)
	if err := provider.LoadWarmCache(cfg.WarmCachePath); err != nil {
		log.Warn().Err(err).Str("path", cfg.WarmCachePath).Msg("failed to load warm market-data cache; starting cold")
	}

	chatCoord := chat.New(chat.Config{
		Mode:                domain.Mode(cfg.Mode),
		TradeIntervalHours:  float64(effectiveTradeIntervalMs(cfg)) / 3_600_000,
		MaxMessagesPerAgent: cfg.ChatMaxMessagesPerAgent,
		MaxMessagesPerUser:  cfg.ChatMaxMessagesPerUser,
		MaxMessageLength:    cfg.ChatMessageMaxLength,
	})

	eng := engine.New(advisor.Noop{}, chatCoord, engine.PacingConfig{
		RequestSpacingMs: cfg.LLMRequestSpacingMs,
		MaxConcurrent:    cfg.LLMMaxConcurrentRequests,
	}, log)

	archiver := newArchiver(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	symbols := []string{benchmarkSymbol}
	initial, err := provider.InitialMarketData(ctx, symbols)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch initial market data")
	}
	if err := manager.InitializeAll(ctx, initial, cfg.ResetSimulation); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulations")
	}

	sched := scheduler.New(scheduler.Config{
		Mode:               domain.Mode(cfg.Mode),
		SimIntervalMs:      effectiveSimIntervalMs(cfg),
		TradeIntervalMs:    effectiveTradeIntervalMs(cfg),
		MinutesPerTick:     cfg.MinutesPerTick,
		BatchSize:          cfg.LLMMaxConcurrentRequests,
		MaxSimulationDays:  cfg.MaxSimulationDays,
		AutosaveIntervalMs: cfg.SnapshotAutosaveIntervalMs,
		Symbols:            symbols,
	}, manager, provider, eng, archiver, log)

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	timerSvc := timer.New(timer.Config{
		Mode:            domain.Mode(cfg.Mode),
		TradeIntervalMs: effectiveTradeIntervalMs(cfg),
		SimIntervalMs:   effectiveSimIntervalMs(cfg),
		MinutesPerTick:  cfg.MinutesPerTick,
	}, manager, sched)

	server := httpapi.New(httpapi.Config{
		Manager: manager,
		Sched:   sched,
		Chat:    chatCoord,
		Timer:   timerSvc,
		Log:     log,
		DevMode: cfg.DevMode,
	})

	httpSrv := &httpServer{addr: portAddr(cfg.Port), handler: server.Handler(), log: log}
	go httpSrv.start()

	log.Info().Int("port", cfg.Port).Msg("marketsim server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	manager.SaveAll(shutdownCtx)
	if err := provider.DumpWarmCache(cfg.WarmCachePath); err != nil {
		log.Warn().Err(err).Str("path", cfg.WarmCachePath).Msg("failed to dump warm market-data cache")
	}
	httpSrv.shutdown(shutdownCtx)

	log.Info().Msg("marketsim stopped")
}

func newPersistenceAdapter(cfg *config.Config, log zerolog.Logger) (persistence.Adapter, error) {
	switch cfg.PersistenceDriver {
	case "postgres":
		return postgres.Open(context.Background(), cfg.PostgresURL, cfg.PostgresNamespace, log)
	case "sqlite":
		return sqlite.Open(context.Background(), cfg.SQLitePath, cfg.SQLiteNamespace, log)
	default:
		return jsonfile.New(cfg.PersistPath, log), nil
	}
}

func newManager(cfg *config.Config, store persistence.Adapter, log zerolog.Logger) *simulation.Manager {
	startCfg := simulation.StartDateConfig{
		Mode:            domain.Mode(cfg.Mode),
		DelayMinutes:    cfg.DataDelayMinutes,
		HistoricalStart: cfg.HistoricalStartDate,
	}
	chatState := domain.ChatState{
		Enabled:             cfg.ChatEnabled,
		MaxMessagesPerAgent: cfg.ChatMaxMessagesPerAgent,
		MaxMessagesPerUser:  cfg.ChatMaxMessagesPerUser,
		MaxMessageLength:    cfg.ChatMessageMaxLength,
	}
	mgr := simulation.New(store, startCfg, chatState, log)

	for id, simType := range defaultSimulationTypes() {
		if cfg.IsSimulationDisabled(id) {
			simType.Enabled = false
		}
		mgr.Register(id, simType)
	}
	return mgr
}

// defaultSimulationTypes is the built-in roster: one solo single-agent
// simulation and one chat-enabled multi-agent panel, mirroring §4.1's
// "multi-agent simulation type" with its extra managers benchmark.
func defaultSimulationTypes() map[string]domain.SimulationType {
	return map[string]domain.SimulationType{
		"solo": {
			ID:          "solo",
			DisplayName: "Solo Trader",
			Description: "a single LLM-backed trader managing one portfolio",
			Enabled:     true,
			ChatEnabled: false,
			TraderConfigs: []domain.TraderConfig{
				{ID: "solo-agent", Name: "Ada", Model: "default"},
			},
		},
		"panel": {
			ID:             "panel",
			DisplayName:    "Manager Panel",
			Description:    "a roundtable of LLM-backed portfolio managers, chat-enabled",
			Enabled:        true,
			ChatEnabled:    true,
			ShowModelNames: true,
			TraderConfigs: []domain.TraderConfig{
				{ID: "panel-value", Name: "Value", Model: "default"},
				{ID: "panel-growth", Name: "Growth", Model: "default"},
				{ID: "panel-macro", Name: "Macro", Model: "default"},
			},
		},
	}
}

func newProvider(cfg *config.Config, log zerolog.Logger) *marketdata.Provider {
	var primary marketdata.Source
	if cfg.TradernetAPIKey != "" {
		primary = tradernetdata.NewClient(tradernetdata.Config{
			APIKey:    cfg.TradernetAPIKey,
			APISecret: cfg.TradernetAPISecret,
		}, log)
	}

	var secondary marketdata.Source
	if cfg.StreamURL != "" {
		stream := streamdata.NewClient(cfg.StreamURL, log)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start streaming market-data client")
		} else {
			secondary = stream
		}
	}

	var tertiary marketdata.Source
	if cfg.AlphaVantageAPIKey != "" {
		tertiary = alphavantagedata.NewClient("https://www.alphavantage.co", cfg.AlphaVantageAPIKey, log)
	}

	return marketdata.NewProvider(marketdata.Config{
		Mode:            domain.Mode(cfg.Mode),
		BenchmarkSymbol: benchmarkSymbol,
		CacheTTL:        time.Minute,
	}, primary, secondary, tertiary, log)
}

func newArchiver(cfg *config.Config, log zerolog.Logger) *archival.Exporter {
	if cfg.S3Bucket == "" {
		return nil
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load AWS config; historical completion exports disabled")
		return nil
	}
	client := s3.NewFromConfig(awsCfg)
	return archival.NewExporter(archival.Config{Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix}, client, log)
}

func effectiveSimIntervalMs(cfg *config.Config) int {
	if cfg.Mode == string(domain.ModeRealtime) {
		return cfg.RealtimeSimIntervalMs
	}
	return cfg.SimIntervalMs
}

func effectiveTradeIntervalMs(cfg *config.Config) int {
	if cfg.Mode == string(domain.ModeRealtime) {
		return cfg.RealtimeTradeInterval
	}
	return cfg.TradeIntervalMs
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// httpServer is the thin net/http.Server wrapper the teacher's server
// package uses (Start/Shutdown), kept minimal here since httpapi.Server
// only builds the handler.
type httpServer struct {
	addr    string
	handler http.Handler
	log     zerolog.Logger
	srv     *http.Server
}

func (s *httpServer) start() {
	s.srv = &http.Server{Addr: s.addr, Handler: s.handler}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Fatal().Err(err).Msg("http server failed")
	}
}

func (s *httpServer) shutdown(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("http server forced to shutdown")
	}
}
