package modem

import (
	"log/slog"
	"time"
)

// Config carries the modem settings. Build one with NewConfigBuilder.
type Config struct {
	// Dialer opens the transport. Required.
	Dialer Dialer
	// SimPIN is submitted when the SIM reports it is locked.
	SimPIN string
	// ATTimeout is the default per-command response deadline.
	ATTimeout time.Duration
	// InitTimeout bounds the whole initialization sequence.
	InitTimeout time.Duration
	// SignalPollInterval is how often AT+CSQ is issued while serving.
	// Zero disables signal polling.
	SignalPollInterval time.Duration
	// ReassemblyTTL is the staleness timeout for multipart fragments.
	ReassemblyTTL time.Duration
	// DeleteOnReceive removes messages from modem storage after they have
	// been surfaced to listeners.
	DeleteOnReceive bool
	// Concatenate enables splitting long outgoing messages into
	// concatenated parts. When disabled, SendMessage rejects texts that
	// exceed a single segment.
	Concatenate bool
	// EmitPartial surfaces expired multipart messages to listeners,
	// tagged incomplete. When false they are only logged and dropped.
	EmitPartial bool
	// Logger receives protocol-level diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{Concatenate: true}}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithSignalPollInterval(d time.Duration) *ConfigBuilder {
	b.config.SignalPollInterval = d
	return b
}

func (b *ConfigBuilder) WithReassemblyTTL(d time.Duration) *ConfigBuilder {
	b.config.ReassemblyTTL = d
	return b
}

func (b *ConfigBuilder) WithDeleteOnReceive(v bool) *ConfigBuilder {
	b.config.DeleteOnReceive = v
	return b
}

func (b *ConfigBuilder) WithConcatenate(v bool) *ConfigBuilder {
	b.config.Concatenate = v
	return b
}

func (b *ConfigBuilder) WithEmitPartial(v bool) *ConfigBuilder {
	b.config.EmitPartial = v
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	b.config.setDefaults()
	return b.config, nil
}
