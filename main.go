package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phsym/console-slog"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"i4.energy/across/gsmmodem/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("log-format", "json", "Log format (json, console)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.Duration("signal-poll-interval", time.Minute, "Signal quality polling interval (0 disables)")
	flag.String("mqtt-broker", "", "MQTT broker URL (empty disables the MQTT bridge)")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(config)

	modemConfig, err := modem.NewConfigBuilder().
		WithSimPIN(config.SimPIN).
		WithSignalPollInterval(config.SignalPollInterval).
		WithDeleteOnReceive(config.DeleteOnReceive).
		WithEmitPartial(config.EmitPartial).
		WithLogger(logger.With("component", "modem")).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			Mode:     &serial.Mode{BaudRate: config.BaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting SMS gateway",
		"serial_port", config.SerialPort,
		"http", config.BindAddress != "",
		"mqtt", config.MQTTBroker != "")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := m.Serve(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if config.BindAddress != "" {
		httpServer := &http.Server{
			Addr: config.BindAddress,
			Handler: &Server{
				Logger: logger.With("component", "server"),
				Modem:  m,
				Token:  config.HTTPToken,
			},
		}

		g.Go(func() error {
			logger.Info("Starting HTTP server", "address", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if config.MQTTBroker != "" {
		bridge := &MQTTBridge{
			Logger: logger.With("component", "mqtt"),
			Modem:  m,
			Config: config,
		}
		if err := bridge.Start(ctx); err != nil {
			logger.Error("Failed to connect to MQTT broker", "error", err)
			os.Exit(1)
		}
		removeListener := m.OnIncomingMessage(bridge.PublishReceived)
		g.Go(func() error {
			<-ctx.Done()
			removeListener()
			bridge.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Gateway terminated", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
		logger.Error("Failed to close modem", "error", err)
	}
}

// newLogger builds the root logger from the configured level and format.
func newLogger(config *Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if config.LogFormat == "console" {
		handler = console.NewHandler(os.Stderr, &console.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
