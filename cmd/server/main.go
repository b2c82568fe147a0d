package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"njord/internal/config"
	"njord/internal/custody"
	"njord/internal/engine"
	"njord/internal/net"
)

// The creation fee is denominated in a currency outside the traded
// pair; the gateway mints it when it bootstraps the pool.
const creationFeeAsset custody.Asset = "FEE"

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("NJORD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setupLogging(cfg.Logging)

	// The pool's events go both to the log stream and to connected
	// client sessions; the relay is bound once the server exists.
	relay := &engine.Relay{}
	pool, err := engine.CreatePool(
		custody.Asset(cfg.Pool.BaseAsset),
		custody.Asset(cfg.Pool.QuoteAsset),
		cfg.Pool.TakerFeeRate,
		cfg.Pool.MakerRebateRate,
		cfg.Pool.TickSize,
		cfg.Pool.LotSize,
		custody.NewBalance(creationFeeAsset, engine.PoolCreationFee),
		engine.MultiCollector{engine.LogCollector{Logger: log.Logger}, relay},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pool")
	}

	srv := net.New(cfg.Server.Address, cfg.Server.Port, cfg.Server.Workers, pool, engine.SystemClock{})
	relay.Target = srv

	go srv.Run(ctx)
	// Block on running the server.
	<-ctx.Done()
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
