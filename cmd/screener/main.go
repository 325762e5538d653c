package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dmik/perp_screener/internal/infrastructure/exchange"
	"github.com/dmik/perp_screener/internal/infrastructure/logger"
	"github.com/dmik/perp_screener/internal/usecase"
	"github.com/dmik/perp_screener/internal/web"
)

type Config struct {
	Venues struct {
		Bybit struct {
			RESTEndpoint string `yaml:"rest_endpoint"`
			WSEndpoint   string `yaml:"ws_endpoint"`
		} `yaml:"bybit"`
		OKX struct {
			RESTEndpoint string `yaml:"rest_endpoint"`
			WSEndpoint   string `yaml:"ws_endpoint"`
		} `yaml:"okx"`
	} `yaml:"venues"`
	Polling struct {
		TickersMs     int `yaml:"tickers_ms"`
		InstrumentsMs int `yaml:"instruments_ms"`
		FundingMs     int `yaml:"funding_ms"`
	} `yaml:"polling"`
	Publish struct {
		IntervalMs int `yaml:"interval_ms"`
	} `yaml:"publish"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func durationMs(ms, fallbackMs int) time.Duration {
	if ms <= 0 {
		ms = fallbackMs
	}
	return time.Duration(ms) * time.Millisecond
}

func orEnv(value, envKey, fallback string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if value != "" {
		return value
	}
	return fallback
}

func main() {
	// Optional .env so endpoints can be overridden without editing yaml.
	_ = godotenv.Load()

	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Core: store, universe, feed board, publisher
	store := usecase.NewStore()
	resolver := usecase.NewUniverseResolver(store, log)
	feeds := usecase.NewFeedBoard(
		exchange.FeedBybitStream,
		exchange.FeedBybitTickers,
		exchange.FeedBybitInstruments,
		exchange.FeedOKXStream,
		exchange.FeedOKXInstruments,
		exchange.FeedOKXFunding,
	)
	publisher := usecase.NewPublisher(store, feeds, durationMs(cfg.Publish.IntervalMs, 1000), log)

	// 4. Feed adapters
	bybit := exchange.NewBybitAdapter(
		orEnv(cfg.Venues.Bybit.RESTEndpoint, "BYBIT_REST_URL", exchange.BybitBaseURL),
		orEnv(cfg.Venues.Bybit.WSEndpoint, "BYBIT_WS_URL", exchange.BybitWSURL),
		store, resolver, feeds, log)
	okx := exchange.NewOKXAdapter(
		orEnv(cfg.Venues.OKX.RESTEndpoint, "OKX_REST_URL", exchange.OKXBaseURL),
		orEnv(cfg.Venues.OKX.WSEndpoint, "OKX_WS_URL", exchange.OKXWSURL),
		store, resolver, feeds, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tickersEvery := durationMs(cfg.Polling.TickersMs, 5000)
	instrumentsEvery := durationMs(cfg.Polling.InstrumentsMs, 60000)
	fundingEvery := durationMs(cfg.Polling.FundingMs, 30000)

	go bybit.RunTickerStream(ctx)
	go bybit.RunTickerPoll(ctx, tickersEvery)
	go bybit.RunInstrumentPoll(ctx, instrumentsEvery)
	go okx.RunTickerStream(ctx)
	go okx.RunInstrumentPoll(ctx, instrumentsEvery)
	go okx.RunFundingPoll(ctx, fundingEvery)
	go publisher.Run(ctx)

	// 5. Web boundary
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, publisher, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("screener started",
		zap.Int("port", port),
		zap.Duration("publish_every", durationMs(cfg.Publish.IntervalMs, 1000)))

	// 6. Wait for Shutdown
	<-ctx.Done()

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
