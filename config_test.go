package main

import (
	"flag"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.BindAddress != "0.0.0.0:8080" {
			t.Errorf("unexpected default bind address: %q", config.BindAddress)
		}
		if config.SerialPort != "/dev/ttyUSB0" || config.BaudRate != 115200 {
			t.Errorf("unexpected serial defaults: %q %d", config.SerialPort, config.BaudRate)
		}
		if config.MQTTBroker != "" {
			t.Errorf("MQTT should be disabled by default, got broker %q", config.MQTTBroker)
		}
		if !config.DeleteOnReceive {
			t.Error("delete-on-receive should default to enabled")
		}
	})

	t.Run("Environment overrides defaults", func(t *testing.T) {
		t.Setenv("SERIAL_PORT", "/dev/ttyACM3")
		t.Setenv("BAUD_RATE", "9600")
		t.Setenv("SIGNAL_POLL_INTERVAL", "30s")
		t.Setenv("MQTT_BROKER", "tcp://broker:1883")
		t.Setenv("EMIT_PARTIAL", "true")

		config, err := LoadConfig(WithDefaults(), WithEnv())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.SerialPort != "/dev/ttyACM3" {
			t.Errorf("unexpected serial port: %q", config.SerialPort)
		}
		if config.BaudRate != 9600 {
			t.Errorf("unexpected baud rate: %d", config.BaudRate)
		}
		if config.SignalPollInterval != 30*time.Second {
			t.Errorf("unexpected signal poll interval: %v", config.SignalPollInterval)
		}
		if config.MQTTBroker != "tcp://broker:1883" {
			t.Errorf("unexpected MQTT broker: %q", config.MQTTBroker)
		}
		if !config.EmitPartial {
			t.Error("EMIT_PARTIAL not applied")
		}
	})

	t.Run("Flags override environment", func(t *testing.T) {
		t.Setenv("SERIAL_PORT", "/dev/ttyACM3")

		fSet := flag.NewFlagSet("test", flag.ContinueOnError)
		fSet.String("serial-port", "/dev/ttyUSB0", "")
		fSet.String("log-level", "info", "")
		if err := fSet.Parse([]string{"-serial-port", "/dev/ttyUSB7", "-log-level", "debug"}); err != nil {
			t.Fatalf("unexpected error parsing flags: %v", err)
		}

		config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(fSet))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.SerialPort != "/dev/ttyUSB7" {
			t.Errorf("flag should win over environment, got: %q", config.SerialPort)
		}
		if config.LogLevel != "debug" {
			t.Errorf("unexpected log level: %q", config.LogLevel)
		}
	})
}
