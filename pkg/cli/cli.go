package cli

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/event"
	"github.com/snups/snupsd/pkg/gpio"
	"github.com/snups/snupsd/pkg/mail"
	"github.com/snups/snupsd/pkg/utils"
)

// Lines is an opened set of monitored GPIO lines.
type Lines interface {
	event.LineReader
	Close() error
}

// LineOpener requests the configured lines and posts their edges on events.
type LineOpener func(cfg config.GPIO, events chan<- event.Event, log *zap.SugaredLogger) (Lines, error)

// Config holds the command line options and the collaborators of the daemon.
// Zero collaborators are replaced with the real implementations.
type Config struct {
	// Application flags
	ConfigPath string
	Debug      bool
	Syslog     bool

	OutputWriter io.Writer

	Logger        *zap.SugaredLogger
	Runner        utils.CommandRunner
	Transport     mail.Transport
	OpenLines     LineOpener
	Exit          func(code int)
	ShutdownSleep func(time.Duration)
}

// DefaultConfig returns the options with environment variable fallbacks applied.
func DefaultConfig() Config {
	return Config{
		ConfigPath:   getEnvString("SNUPS_CONFIG_PATH", config.DefaultConfigPath),
		Debug:        getEnvBool("SNUPS_DEBUG", false),
		Syslog:       getEnvBool("SNUPS_SYSLOG", false),
		OutputWriter: os.Stdout,
	}
}

func (c *Config) withDefaults() {
	if c.OutputWriter == nil {
		c.OutputWriter = os.Stdout
	}
	if c.ConfigPath == "" {
		c.ConfigPath = config.DefaultConfigPath
	}
	if c.Runner == nil {
		c.Runner = utils.ExecRunner{}
	}
	if c.Transport == nil {
		c.Transport = &mail.SMTPTransport{}
	}
	if c.OpenLines == nil {
		c.OpenLines = func(cfg config.GPIO, events chan<- event.Event, log *zap.SugaredLogger) (Lines, error) {
			return gpio.Open(cfg, events, log)
		}
	}
	if c.Exit == nil {
		c.Exit = os.Exit
	}
	if c.ShutdownSleep == nil {
		c.ShutdownSleep = time.Sleep
	}
}

// Print logs the effective configuration without secrets.
func Print(cfg config.Config, log *zap.SugaredLogger) {
	log.Infow("Configuration",
		// Mail
		"mail_to", cfg.Mail.To,
		"mail_from", cfg.Mail.From,
		"mail_server", cfg.Mail.Server,
		"mail_auth", cfg.Mail.Auth,
		"mail_port", cfg.Mail.Port,
		"mail_timeout", cfg.Mail.Timeout.String(),
		"mail_attempts", cfg.Mail.Attempts,
		"mail_sleep", cfg.Mail.Sleep.String(),
		// DNS
		"dns_command", cfg.DNS.Command,
		"dns_timeout", cfg.DNS.Timeout.String(),
		"dns_retries", cfg.DNS.Retries,
		"dns_max_candidates", cfg.DNS.MaxCandidates,
		// GPIO
		"gpio_chip", cfg.GPIO.Chip,
		"gpio_debounce", cfg.GPIO.Debounce.String(),
		// Shutdown
		"shutdown_wait", cfg.Shutdown.Wait.String(),
		// Notify
		"notify_parallel", cfg.Notify.IsParallel(),
		"notify_drain_timeout", cfg.Notify.DrainTimeout.String(),
		"notify_rate_limit_per_minute", cfg.Notify.RateLimitPerMinute,
		// Metrics
		"metrics_bind_address", cfg.Metrics.BindAddress,
		// Tracing
		"tracing_enabled", cfg.Tracing.Enabled,
		"tracing_exporter", cfg.Tracing.Exporter,
	)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
