package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	modbustiles "github.com/KeppyMarbles/ModbusTiles"
	"github.com/KeppyMarbles/ModbusTiles/internal/alarm"
	"github.com/KeppyMarbles/ModbusTiles/internal/api"
	"github.com/KeppyMarbles/ModbusTiles/internal/cache"
	"github.com/KeppyMarbles/ModbusTiles/internal/cleanup"
	"github.com/KeppyMarbles/ModbusTiles/internal/config"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/devicecfg"
	"github.com/KeppyMarbles/ModbusTiles/internal/engine"
	"github.com/KeppyMarbles/ModbusTiles/internal/history"
	"github.com/KeppyMarbles/ModbusTiles/internal/mqttclient"
	"github.com/KeppyMarbles/ModbusTiles/internal/poll"
	"github.com/KeppyMarbles/ModbusTiles/internal/schedule"
	"github.com/KeppyMarbles/ModbusTiles/internal/session"
	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/rs/zerolog"
)

// version, commit, and buildTime are injected at build time via ldflags
// (go build -ldflags "-X main.version=...").
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("modbus supervisor starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, modbustiles.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed (run the printed SQL manually or grant ALTER privileges)")
	}

	sessions := session.NewRegistry()
	tagCache := cache.New()
	bus := engine.NewEventBus(256)

	historySampler := history.New(db, log, 500, 5*time.Second)
	alarmEvaluator := alarm.New(db, bus, cfg.DefaultNotifyCooldown, log)

	var mqtt *mqttclient.Client
	var mqttMirror func(tagExternalID string, v value.Value)
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		log.Info().Str("broker", cfg.MQTTBrokerURL).Str("client_id", cfg.MQTTClientID).Msg("mqtt connected")

		prefix := cfg.MQTTTopicPrefix
		mqttMirror = func(tagExternalID string, v value.Value) {
			payload, err := json.Marshal(v)
			if err != nil {
				return
			}
			mqtt.Publish(prefix+"/tags/"+tagExternalID, payload)
		}
	} else {
		log.Info().Msg("mqtt not configured (mirror disabled)")
	}

	pollEngine := poll.New(poll.Options{
		DB:               db,
		Cache:            tagCache,
		History:          historySampler,
		Alarms:           alarmEvaluator,
		Sessions:         sessions,
		Bus:              bus,
		MQTTMirror:       mqttMirror,
		Interval:         cfg.PollInterval,
		TransportTimeout: cfg.PollTransportTimeout,
		MinBackoff:       cfg.ReconnectBackoffMin,
		MaxBackoff:       cfg.ReconnectBackoffMax,
		Log:              log,
	})
	go pollEngine.Run(ctx)

	scheduleRunner, err := schedule.New(db, cfg.ScheduleInterval, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build schedule runner")
	}
	scheduleRunner.Start()
	defer scheduleRunner.Stop()

	cleanupRunner, err := cleanup.New(db, cfg.CleanupInterval, cfg.WriteRetention, cfg.AlarmRetention, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build cleanup runner")
	}
	cleanupRunner.Start()
	defer cleanupRunner.Stop()

	if cfg.DeviceConfigWatch != "" {
		watcherLog := log.With().Str("component", "devicecfg").Logger()
		watcher, err := devicecfg.New(cfg.DeviceConfigWatch, db, watcherLog)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DeviceConfigWatch).Msg("failed to start device config watcher")
		}
		defer watcher.Close()
		log.Info().Str("path", cfg.DeviceConfigWatch).Msg("device config watcher started")
	}

	if !cfg.AuthEnabled {
		log.Warn().Msg("AUTH_ENABLED=false — API authentication is disabled, all endpoints are open")
	} else if cfg.AuthTokenGenerated {
		log.Info().Str("token", cfg.AuthToken).Msg("AUTH_TOKEN auto-generated (set AUTH_TOKEN in .env for a persistent token)")
	} else {
		log.Info().Msg("AUTH_TOKEN loaded from configuration")
	}
	if cfg.AuthEnabled && cfg.WriteToken != "" {
		log.Info().Msg("write protection enabled (WRITE_TOKEN set)")
	} else if cfg.AuthEnabled {
		log.Warn().Msg("WRITE_TOKEN not set — write endpoints accept the read token")
	}

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		DB:        db,
		Cache:     tagCache,
		MQTT:      mqtt,
		Sessions:  sessions,
		Poll:      pollEngine,
		PollStats: pollEngine,
		Version:   fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime: startTime,
		Log:       httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("modbus supervisor ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("modbus supervisor stopped")
}
