package main

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the daemon configuration
type Config struct {
	// BindAddress is the address the HTTP server listens on (e.g. "0.0.0.0:8080").
	// Empty disables the HTTP API.
	BindAddress string
	// HTTPToken, when set, is required as "Authorization: Bearer <token>"
	HTTPToken string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// LogFormat selects the log output format ("json" or "console")
	LogFormat string
	// SimPIN is the SIM card PIN code
	SimPIN string
	// SignalPollInterval is how often signal quality is sampled. Zero disables it.
	SignalPollInterval time.Duration
	// DeleteOnReceive removes messages from modem storage once surfaced
	DeleteOnReceive bool
	// EmitPartial publishes multipart messages that expired with parts missing
	EmitPartial bool

	// MQTTBroker is the broker URL (e.g. "tcp://localhost:1883").
	// Empty disables the MQTT bridge.
	MQTTBroker string
	// MQTTClientID identifies this daemon on the broker
	MQTTClientID string
	// MQTTSendTopic carries send requests as JSON {to,message}
	MQTTSendTopic string
	// MQTTReceiveTopic is where received messages are published
	MQTTReceiveTopic string
	MQTTUsername     string
	MQTTPassword     string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.LogFormat = "json"
		c.SignalPollInterval = time.Minute
		c.DeleteOnReceive = true
		c.MQTTClientID = "gsmmodem-1"
		c.MQTTSendTopic = "sms/send"
		c.MQTTReceiveTopic = "sms/received"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if token := os.Getenv("HTTP_TOKEN"); token != "" {
			c.HTTPToken = token
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if format := os.Getenv("LOG_FORMAT"); format != "" {
			c.LogFormat = format
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if interval := os.Getenv("SIGNAL_POLL_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.SignalPollInterval = d
			}
		}

		if del := os.Getenv("DELETE_ON_RECEIVE"); del != "" {
			if v, err := strconv.ParseBool(del); err == nil {
				c.DeleteOnReceive = v
			}
		}

		if partial := os.Getenv("EMIT_PARTIAL"); partial != "" {
			if v, err := strconv.ParseBool(partial); err == nil {
				c.EmitPartial = v
			}
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTTBroker = broker
		}

		if id := os.Getenv("MQTT_CLIENT_ID"); id != "" {
			c.MQTTClientID = id
		}

		if topic := os.Getenv("MQTT_SEND_TOPIC"); topic != "" {
			c.MQTTSendTopic = topic
		}

		if topic := os.Getenv("MQTT_RECEIVE_TOPIC"); topic != "" {
			c.MQTTReceiveTopic = topic
		}

		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTTUsername = user
		}

		if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
			c.MQTTPassword = pass
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "log-format":
				c.LogFormat = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "signal-poll-interval":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.SignalPollInterval = d
				}
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			}
		})
		return nil
	}
}
