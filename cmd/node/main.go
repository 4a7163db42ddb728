package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	rpio "github.com/stianeikeland/go-rpio/v4"
	"go.uber.org/zap"

	"gitlab.com/lologarithm/cloudthermo/actuator"
	"gitlab.com/lologarithm/cloudthermo/alert"
	"gitlab.com/lologarithm/cloudthermo/clock"
	"gitlab.com/lologarithm/cloudthermo/config"
	"gitlab.com/lologarithm/cloudthermo/node"
	"gitlab.com/lologarithm/cloudthermo/rnet"
	"gitlab.com/lologarithm/cloudthermo/rtdb"
	"gitlab.com/lologarithm/cloudthermo/sensor"
	"gitlab.com/lologarithm/cloudthermo/telemetry"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := pflag.String("config", "config.json", "path to the json config file")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	cfg.ApplyEnv()
	if err := cfg.ApplyFlags(pflag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "bad flags: %s\n", err)
		os.Exit(2)
	}

	shutdown, err := telemetry.Setup(ctx, "cloudthermo")
	defer shutdown(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry setup failed: %s\n", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, telemetry.OTLPEnabled())
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad log level %q: %s\n", cfg.LogLevel, err)
		os.Exit(2)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("starting up", zap.String("version", version), zap.String("commit", commit), zap.String("name", cfg.Name))

	switch {
	case errors.Is(cfgErr, fs.ErrNotExist):
		logger.Info("no config file, using defaults and flags", zap.String("path", *configPath))
	case cfgErr != nil:
		logger.Fatal("failed to load config", zap.Error(cfgErr))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("node stopped", zap.Error(err))
	}
	logger.Info("done")
}

// run in short will wait for the network and time sync, sign in to the
// remote database and then poll actuators and push readings until ctx is done.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var (
		therm sensor.Reader
		out   actuator.Outputs
	)
	if err := rpio.Open(); err != nil {
		logger.Warn("unable to open raspberry pi gpio pins, defaulting to fake devices", zap.Error(err))
		therm = sensor.NewFake()
		out = actuator.NewFake()
	} else {
		defer rpio.Close()
		logger.Info("gpio opened",
			zap.Int("dht", cfg.Pins.DHT),
			zap.Int("ledGreen", cfg.Pins.LedGreen),
			zap.Int("ledRed", cfg.Pins.LedRed),
			zap.Ints("rgb", cfg.Pins.RGB[:]),
		)
		therm = sensor.NewDHT22(cfg.Pins.DHT)
		out = actuator.NewRPIOOutputs(cfg.Pins.LedGreen, cfg.Pins.LedRed, cfg.Pins.RGB, cfg.PWMFreq)
		defer out.Close()
	}

	// connecting
	if cfg.WiFiSSID != "" {
		logger.Info("expecting wifi network", zap.String("ssid", cfg.WiFiSSID))
	}
	if _, err := rnet.WaitOnline(ctx, logger); err != nil {
		return err
	}

	// time-syncing
	ntp := clock.NewNTP(cfg.NTPServer, logger)
	if err := ntp.Sync(ctx, 5*time.Second); err != nil {
		return err
	}

	// authenticating
	store, err := rtdb.New(cfg.DatabaseURL, cfg.APIKey,
		rtdb.WithLogger(logger),
		rtdb.WithAuthEvery(cfg.AuthRetry.Duration),
	)
	if err != nil {
		return err
	}
	if err := store.SignUp(ctx); err != nil {
		// Not fatal: the loop reports not ready and Ready retries the sign up
		// every AuthRetry.
		logger.Error("sign up failed", zap.Error(err))
	}

	metrics := telemetry.NewMetrics()
	ncfg := node.DefaultConfig()
	ncfg.Name = cfg.Name
	ncfg.SensorEvery = cfg.SensorInterval.Duration
	ncfg.ActuatorEvery = cfg.ActuatorInterval.Duration
	ncfg.Zone = clock.Zone(cfg.GMTOffset, cfg.DaylightOffset)
	ncfg.Thresholds = cfg.Comfort

	opts := []node.Option{node.WithLogger(logger), node.WithMetrics(metrics)}

	if cfg.StatusAddr != "" {
		hub := rnet.NewHub(cfg.Name, logger)
		opts = append(opts, node.WithObserver(hub))
		go func() {
			if err := hub.Serve(ctx, cfg.StatusAddr, metrics.Handler()); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}
	if cfg.Announce {
		ann, err := rnet.NewAnnouncer(cfg.AnnounceAddr, logger)
		if err != nil {
			logger.Error("failed to set up announcements", zap.Error(err))
		} else {
			defer ann.Close()
			opts = append(opts, node.WithObserver(ann))
		}
	}
	if cfg.Mailgun.Enabled() {
		al := alert.New(alert.NewMailgun(cfg.Mailgun), cfg.AlertEvery.Duration, logger)
		opts = append(opts, node.WithObserver(al))
		go al.Run(ctx)
	}

	return node.New(ncfg, store, therm, out, ntp, opts...).Run(ctx)
}
