package objective

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Default configuration values.
const (
	// DefaultTimeout bounds a single remote evaluation.
	DefaultTimeout = 5 * time.Second

	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 30 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 10 * time.Second

	// DefaultMaxMessageSize is the default maximum gRPC message size.
	// Requests carry a single point, so this is small.
	DefaultMaxMessageSize = 1024 * 1024
)

// Configuration errors.
var (
	ErrNoAddress     = errors.New("objective address is required")
	ErrInvalidConfig = errors.New("invalid objective configuration")
)

// Config holds the connection settings shared by Remote and Server.
type Config struct {
	// Address is host:port to dial (Remote) or listen on (Server).
	Address string

	// Token is sent as the x-token header and checked by the server when
	// set. Supports ${VAR_NAME} expansion.
	Token string

	// UseTLS enables TLS on the client connection.
	UseTLS bool

	// Timeout bounds each remote evaluation.
	Timeout time.Duration

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		MaxMessageSize:   DefaultMaxMessageSize,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Address == "" {
		return ErrNoAddress
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTime <= 0 || c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive settings must be positive", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a copy with defaults applied to zero fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	return c
}

// ExpandedToken returns the token with environment variable expansion.
func (c *Config) ExpandedToken() string {
	return expandEnvVars(c.Token)
}

// expandEnvVars expands ${VAR} references in a string.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		result = result[:start] + os.Getenv(result[start+2:end]) + result[end+1:]
	}
	return result
}
