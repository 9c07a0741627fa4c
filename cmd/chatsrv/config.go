package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/wtask/chatcast/internal/chat/wire"
)

// Configuration - server configuration.
type Configuration struct {
	// IPAddress - bind the address
	IPAddress string
	// Port - bind the port
	Port uint
	// ClientIdleTimeout - idle period before client is disconnected, 0 disables it
	ClientIdleTimeout time.Duration
	// ClientWriteTimeout - period given to write one frame, 0 disables it
	ClientWriteTimeout time.Duration
	// ClientHistoryGreets - num of messages from chat history which is pushed to newly connected client
	ClientHistoryGreets int
	// MaxFrameSize - limit of frame body length
	MaxFrameSize int
	// SenderEcho - deliver chat message back to its author
	SenderEcho bool
	// CleanPayloads - fold line breaks and strip control runes of chat messages
	CleanPayloads bool
	// AdminAddress - listen address of admin HTTP endpoints, empty disables them
	AdminAddress string
	// ShutdownTimeout - how long to wait for sessions on stop
	ShutdownTimeout time.Duration
	// LogFormat - text or json
	LogFormat string
	// LogLevel - debug, info, warn or error
	LogLevel string
}

func defaultConfig() Configuration {
	return Configuration{
		IPAddress:           "",
		Port:                8052,
		ClientHistoryGreets: 10,
		MaxFrameSize:        wire.DefaultMaxFrameSize,
		SenderEcho:          true,
		ShutdownTimeout:     10 * time.Second,
		LogFormat:           "text",
		LogLevel:            "info",
	}
}

// configFromEnv - returns defaults overwritten by CHATCAST_* environment variables.
// Invalid values are reported, so misconfiguration is not silently ignored.
func configFromEnv() (Configuration, error) {
	cfg := defaultConfig()
	errs := []error{}

	if ip, ok := os.LookupEnv("CHATCAST_IP"); ok {
		cfg.IPAddress = ip
	}
	if port := os.Getenv("CHATCAST_PORT"); port != "" {
		v, err := strconv.ParseUint(port, 10, 16)
		errs = append(errs, envError("CHATCAST_PORT", err))
		cfg.Port = uint(v)
	}
	if timeout := os.Getenv("CHATCAST_CLIENT_TIMEOUT"); timeout != "" {
		v, err := time.ParseDuration(timeout)
		errs = append(errs, envError("CHATCAST_CLIENT_TIMEOUT", err))
		cfg.ClientIdleTimeout = v
	}
	if timeout := os.Getenv("CHATCAST_WRITE_TIMEOUT"); timeout != "" {
		v, err := time.ParseDuration(timeout)
		errs = append(errs, envError("CHATCAST_WRITE_TIMEOUT", err))
		cfg.ClientWriteTimeout = v
	}
	if greets := os.Getenv("CHATCAST_HISTORY_GREETS"); greets != "" {
		v, err := strconv.Atoi(greets)
		errs = append(errs, envError("CHATCAST_HISTORY_GREETS", err))
		cfg.ClientHistoryGreets = v
	}
	if size := os.Getenv("CHATCAST_MAX_FRAME_SIZE"); size != "" {
		v, err := strconv.Atoi(size)
		errs = append(errs, envError("CHATCAST_MAX_FRAME_SIZE", err))
		cfg.MaxFrameSize = v
	}
	if echo := os.Getenv("CHATCAST_SENDER_ECHO"); echo != "" {
		v, err := strconv.ParseBool(echo)
		errs = append(errs, envError("CHATCAST_SENDER_ECHO", err))
		cfg.SenderEcho = v
	}
	if clean := os.Getenv("CHATCAST_CLEAN_PAYLOADS"); clean != "" {
		v, err := strconv.ParseBool(clean)
		errs = append(errs, envError("CHATCAST_CLEAN_PAYLOADS", err))
		cfg.CleanPayloads = v
	}
	if admin, ok := os.LookupEnv("CHATCAST_ADMIN"); ok {
		cfg.AdminAddress = admin
	}
	if format := os.Getenv("CHATCAST_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if level := os.Getenv("CHATCAST_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, errors.Join(errs...)
}

func envError(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", name, err)
}

// bindFlags - registers flags, current configuration values become flag defaults.
func (cfg *Configuration) bindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&cfg.IPAddress, "ip", cfg.IPAddress, "Listen address (CHATCAST_IP)")
	flags.UintVar(&cfg.Port, "port", cfg.Port, "Listen port (CHATCAST_PORT)")
	flags.DurationVar(&cfg.ClientIdleTimeout, "client-timeout", cfg.ClientIdleTimeout,
		"Idle duration before client is disconnected, 0 disables (CHATCAST_CLIENT_TIMEOUT)")
	flags.DurationVar(&cfg.ClientWriteTimeout, "write-timeout", cfg.ClientWriteTimeout,
		"Write deadline of a single frame, 0 disables (CHATCAST_WRITE_TIMEOUT)")
	flags.IntVar(&cfg.ClientHistoryGreets, "history-greets", cfg.ClientHistoryGreets,
		"Num of messages from chat history which is pushed to newly connected client (CHATCAST_HISTORY_GREETS)")
	flags.IntVar(&cfg.MaxFrameSize, "max-frame-size", cfg.MaxFrameSize,
		"Limit of frame body length in bytes (CHATCAST_MAX_FRAME_SIZE)")
	flags.BoolVar(&cfg.SenderEcho, "sender-echo", cfg.SenderEcho,
		"Deliver chat message back to its author (CHATCAST_SENDER_ECHO)")
	flags.BoolVar(&cfg.CleanPayloads, "clean-payloads", cfg.CleanPayloads,
		"Fold line breaks and strip control runes of chat messages, drop empty ones (CHATCAST_CLEAN_PAYLOADS)")
	flags.StringVar(&cfg.AdminAddress, "admin", cfg.AdminAddress,
		"Admin HTTP listen address, e.g. 127.0.0.1:8053, empty disables (CHATCAST_ADMIN)")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout,
		"How long to wait for sessions on stop")
}

// Validate - checks configuration consistency.
func (cfg Configuration) Validate() error {
	switch {
	case cfg.Port > 65535:
		return fmt.Errorf("port value %d is out of range", cfg.Port)
	case cfg.ClientIdleTimeout < 0:
		return errors.New("client-timeout value should be greater or equal 0")
	case cfg.ClientWriteTimeout < 0:
		return errors.New("write-timeout value should be greater or equal 0")
	case cfg.ClientHistoryGreets < 0:
		return errors.New("history-greets value should be greater or equal 0")
	case cfg.MaxFrameSize <= 0:
		return errors.New("max-frame-size value should be greater 0")
	case cfg.ShutdownTimeout <= 0:
		return errors.New("shutdown-timeout value should be greater 0")
	}
	return nil
}

// Address - returns listen address of chat server.
func (cfg Configuration) Address() string {
	return net.JoinHostPort(cfg.IPAddress, strconv.FormatUint(uint64(cfg.Port), 10))
}
