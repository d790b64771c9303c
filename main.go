package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wfunc/holdgame/broadcast"
	"github.com/wfunc/holdgame/config"
	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/device/bridge"
	"github.com/wfunc/holdgame/device/sim"
	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/leaderboard"
	"github.com/wfunc/holdgame/logger"
	"github.com/wfunc/holdgame/monitor"
	"github.com/wfunc/holdgame/opponent"
	"github.com/wfunc/holdgame/room"
	"github.com/wfunc/holdgame/rpc"
	"github.com/wfunc/holdgame/server"
	"github.com/wfunc/holdgame/services"
	"github.com/wfunc/holdgame/session"
	"github.com/wfunc/holdgame/telemetry"
)

// deviceLink is a device.Link that runs until its context ends.
type deviceLink interface {
	device.Link
	Run(ctx context.Context)
}

func main() {
	configDir := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Log.Warnf("load .env: %v", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelCfg, err := telemetry.LoadConfig()
	if err != nil {
		logger.Log.Fatalf("Failed to load telemetry config: %v", err)
	}
	shutdownTracing, err := telemetry.Setup(ctx, otelCfg)
	if err != nil {
		logger.Log.Fatalf("Failed to set up tracing: %v", err)
	}

	mon := monitor.NewMonitor("holdgame")
	metricsServer := mon.StartServer(cfg.Server.MetricsAddress)

	// Leaderboard
	store, err := leaderboard.Open(cfg.Leaderboard)
	if err != nil {
		logger.Log.Fatalf("Failed to open leaderboard: %v", err)
	}
	logger.Log.Infof("Leaderboard store ready (%s)", cfg.Leaderboard.Driver)
	results := services.NewResultService(store, logger.Log.Named("results"))

	// Device
	link := newLink(cfg.Device)
	coord := device.NewCoordinator(link,
		device.WithLogger(logger.Log.Named("device")),
		device.WithRecorder(mon),
	)

	tick := time.Duration(cfg.Game.TickMillis) * time.Millisecond
	sess := game.NewSession(coord,
		game.WithLogger(logger.Log.Named("game")),
		game.WithSettings(settingsFrom(cfg.Game)),
		game.WithResultSink(results),
		game.WithObserver(mon),
		game.WithOpponent(newOpponent(cfg.Game.OpponentSeed)),
		game.WithTick(tick),
	)

	sessions := session.NewManager()
	controller := room.NewController(sess, coord,
		room.WithBroadcaster(broadcast.NewSessionBroadcaster(sessions)),
		room.WithLogger(logger.Log.Named("room")),
		room.WithTickObserver(mon),
		room.WithInterval(tick),
		room.WithPollTicks(cfg.Device.PollTicks),
	)
	link.SetHandler(controller)
	controller.Start()
	go link.Run(ctx)

	if cfg.Device.Brightness > 0 {
		if _, err := controller.SetBrightness(cfg.Device.Brightness); err != nil {
			logger.Log.Warnf("Failed to set brightness: %v", err)
		}
	}

	// RPC
	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewGameService(controller, results))
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	go rpcServer.Start()

	// Game Server
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, controller, results, sessions,
		server.WithMetrics(mon))
	go func() {
		if err := gameServer.Start(); err != nil {
			logger.Log.Errorf("Game server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gameServer.Shutdown(shutdownCtx)
	rpcServer.Stop()
	// leave the appliance safe before the loop stops
	controller.Reset()
	controller.Do(func(*game.Session) error {
		coord.RequestHeater(false)
		return nil
	})
	controller.Close()
	results.Close()
	if err := store.Close(); err != nil {
		logger.Log.Warnf("close leaderboard: %v", err)
	}
	metricsServer.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Log.Warnf("flush traces: %v", err)
	}
}

func newLink(cfg config.DeviceConfig) deviceLink {
	switch cfg.Mode {
	case "bridge":
		logger.Log.Infof("Using BLE bridge at %s", cfg.BridgeURL)
		return bridge.New(cfg.BridgeURL, bridge.WithLogger(logger.Log.Named("bridge")))
	default:
		params := sim.DefaultParams()
		params.Ambient = float64(cfg.SimAmbient)
		params.HeatRate = float64(cfg.SimHeatRate)
		params.PushReads = cfg.SimPushReads
		logger.Log.Info("Using simulated appliance")
		return sim.New(params)
	}
}

func newOpponent(seed int64) *opponent.Opponent {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return opponent.NewSeeded(seed)
}

func settingsFrom(cfg config.GameConfig) game.Settings {
	s := game.DefaultSettings()
	s.InitialDuration = cfg.InitialDuration
	s.Increment = cfg.Increment
	s.PrepTime = cfg.PrepTime
	s.TargetTemperature = cfg.TargetTemperature
	s.Rounds = cfg.Rounds
	s.Hardcore = cfg.Hardcore
	s.SinglePlayer = cfg.SinglePlayer
	if v, err := s.Validate(); err == nil {
		return v
	}
	logger.Log.Warn("Invalid game settings in config, using defaults")
	return game.DefaultSettings()
}
