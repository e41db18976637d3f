package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is used when neither --config nor SNUPS_CONFIG_PATH is set.
const DefaultConfigPath = "/etc/snups/snups.yaml"

const (
	DefaultSubjectPrefix = "SN UPS"
	DefaultSMTPPort      = 25
	DefaultSMTPTimeout   = 10 * time.Second
	DefaultSMTPAttempts  = 3
	DefaultSMTPSleep     = 10 * time.Second

	DefaultDNSCommand       = "/usr/bin/host"
	DefaultDNSTimeout       = 10 * time.Second
	DefaultDNSRetries       = 3
	DefaultDNSSleep         = 10 * time.Second
	DefaultDNSMaxCandidates = 3

	DefaultGPIOChip       = "gpiochip0"
	DefaultButtonPin      = 4
	DefaultLowBatteryPin  = 22
	DefaultPowerPin       = 23
	DefaultDebouncePeriod = 200 * time.Millisecond

	DefaultShutdownWait     = 20 * time.Second
	DefaultBroadcastCommand = "wall"
	DefaultPowerOffCommand  = "shutdown now"

	DefaultStartupMessage = "Monitor started"
	DefaultEventBuffer    = 64

	DefaultTracingExporter = "otlp"
)

// Mail is the delivery configuration shared read-only by every notification.
type Mail struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Subject   string `yaml:"subject"`
	Signature string `yaml:"signature"`

	// Server, when set, replaces MX resolution with a single relay host.
	Server             string        `yaml:"server"`
	Auth               bool          `yaml:"auth"`
	Username           string        `yaml:"username"`
	Secret             string        `yaml:"secret"`
	Port               int           `yaml:"port"`
	Timeout            time.Duration `yaml:"timeout"`
	Attempts           int           `yaml:"attempts"`
	Sleep              time.Duration `yaml:"sleep"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
}

// DNS controls MX discovery through the external lookup command.
type DNS struct {
	Command       string        `yaml:"command"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	Sleep         time.Duration `yaml:"sleep"`
	MaxCandidates int           `yaml:"maxCandidates"`
}

// GPIO names the character device and line offsets of the UPS board.
type GPIO struct {
	Chip       string        `yaml:"chip"`
	Button     int           `yaml:"button"`
	LowBattery int           `yaml:"lowBattery"`
	Power      int           `yaml:"power"`
	Debounce   time.Duration `yaml:"debounce"`
}

type Shutdown struct {
	Wait             time.Duration `yaml:"wait"`
	BroadcastCommand string        `yaml:"broadcastCommand"`
	PowerOffCommand  string        `yaml:"powerOffCommand"`
}

// Notify selects how power notifications are executed.
//
// With Parallel disabled every delivery runs on the dispatcher goroutine and
// hardware events queue up until the send finishes. Only use it where
// goroutines per delivery are not wanted.
type Notify struct {
	Parallel           *bool         `yaml:"parallel"`
	DrainTimeout       time.Duration `yaml:"drainTimeout"`
	RateLimitPerMinute float64       `yaml:"rateLimitPerMinute"`
	RateBurst          int           `yaml:"rateBurst"`
	StartupMessage     string        `yaml:"startupMessage"`
	EventBuffer        int           `yaml:"eventBuffer"`
}

// IsParallel reports whether deliveries run on their own goroutine (default true).
func (n Notify) IsParallel() bool {
	return n.Parallel == nil || *n.Parallel
}

type Metrics struct {
	// BindAddress enables the Prometheus listener when non-empty (e.g. "127.0.0.1:9187").
	BindAddress string `yaml:"bindAddress"`
}

// Tracing configures OpenTelemetry spans for mail deliveries.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is one of otlp, stdout or none.
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Mail     Mail     `yaml:"mail"`
	DNS      DNS      `yaml:"dns"`
	GPIO     GPIO     `yaml:"gpio"`
	Shutdown Shutdown `yaml:"shutdown"`
	Notify   Notify   `yaml:"notify"`
	Metrics  Metrics  `yaml:"metrics"`
	Tracing  Tracing  `yaml:"tracing"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	c := Config{
		DNS: DNS{Retries: DefaultDNSRetries},
		GPIO: GPIO{
			Button:     DefaultButtonPin,
			LowBattery: DefaultLowBatteryPin,
			Power:      DefaultPowerPin,
		},
	}
	c.Defaults()
	return c
}

// Load reads the configuration file at path. A missing file is not an error:
// every option has a default and the daemon must be able to protect the host
// without any configuration at all. The file is decoded on top of Default,
// so keys that are present keep their value even when it is zero.
func Load(path string) (Config, error) {
	config := Default()

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return config, nil
	case err != nil:
		return config, fmt.Errorf("trying to open snups config file %s: %w", path, err)
	}

	if err := yaml.UnmarshalStrict(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	config.Defaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid snups config %s: %w", path, err)
	}
	return config, nil
}

// Defaults fills options whose zero value is never meaningful. Line offsets
// and dns.retries accept zero and are only defaulted by Default.
func (c *Config) Defaults() {
	m := &c.Mail
	if m.From == "" {
		m.From = m.To
	}
	if m.Subject == "" {
		m.Subject = DefaultSubjectPrefix + " event"
	}
	if m.Signature == "" {
		m.Signature = DefaultSubjectPrefix
	}
	if m.Port == 0 {
		m.Port = DefaultSMTPPort
	}
	if m.Timeout == 0 {
		m.Timeout = DefaultSMTPTimeout
	}
	if m.Attempts == 0 {
		m.Attempts = DefaultSMTPAttempts
	}
	if m.Sleep == 0 {
		m.Sleep = DefaultSMTPSleep
	}

	d := &c.DNS
	if d.Command == "" {
		d.Command = DefaultDNSCommand
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultDNSTimeout
	}
	if d.Sleep == 0 {
		d.Sleep = DefaultDNSSleep
	}
	if d.MaxCandidates == 0 {
		d.MaxCandidates = DefaultDNSMaxCandidates
	}

	g := &c.GPIO
	if g.Chip == "" {
		g.Chip = DefaultGPIOChip
	}
	if g.Debounce == 0 {
		g.Debounce = DefaultDebouncePeriod
	}

	s := &c.Shutdown
	if s.Wait == 0 {
		s.Wait = DefaultShutdownWait
	}
	if s.BroadcastCommand == "" {
		s.BroadcastCommand = DefaultBroadcastCommand
	}
	if s.PowerOffCommand == "" {
		s.PowerOffCommand = DefaultPowerOffCommand
	}

	n := &c.Notify
	if n.StartupMessage == "" {
		n.StartupMessage = DefaultStartupMessage
	}
	if n.EventBuffer == 0 {
		n.EventBuffer = DefaultEventBuffer
	}
	if n.RateBurst == 0 {
		n.RateBurst = 1
	}

	t := &c.Tracing
	if t.Exporter == "" {
		t.Exporter = DefaultTracingExporter
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = 1.0
	}
}

// NormalizeAuth turns authentication off when it cannot work: credentials are
// only ever sent to an explicitly configured relay. It returns a description
// of the change, or "" when nothing was changed.
func (c *Config) NormalizeAuth() string {
	m := &c.Mail
	if !m.Auth {
		return ""
	}
	var missing []string
	if m.Server == "" {
		missing = append(missing, "server")
	}
	if m.Username == "" {
		missing = append(missing, "username")
	}
	if m.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(missing) == 0 {
		return ""
	}
	m.Auth = false
	return "mail authentication disabled, missing " + strings.Join(missing, ", ")
}

// Validate rejects values the daemon cannot run with. It expects Defaults to
// have been applied.
func (c Config) Validate() error {
	var errs []error
	if c.Mail.To != "" && !strings.Contains(c.Mail.To, "@") {
		errs = append(errs, fmt.Errorf("mail.to %q is not an email address", c.Mail.To))
	}
	if c.Mail.Port < 1 || c.Mail.Port > 65535 {
		errs = append(errs, fmt.Errorf("mail.port %d out of range", c.Mail.Port))
	}
	if c.Mail.Attempts < 1 {
		errs = append(errs, fmt.Errorf("mail.attempts must be at least 1, got %d", c.Mail.Attempts))
	}
	if c.Mail.Timeout < 0 || c.Mail.Sleep < 0 {
		errs = append(errs, errors.New("mail.timeout and mail.sleep must not be negative"))
	}
	if c.DNS.Retries < 0 {
		errs = append(errs, fmt.Errorf("dns.retries must not be negative, got %d", c.DNS.Retries))
	}
	if c.DNS.MaxCandidates < 1 {
		errs = append(errs, fmt.Errorf("dns.maxCandidates must be at least 1, got %d", c.DNS.MaxCandidates))
	}
	pins := map[int]string{}
	for name, pin := range map[string]int{"button": c.GPIO.Button, "lowBattery": c.GPIO.LowBattery, "power": c.GPIO.Power} {
		if pin < 0 {
			errs = append(errs, fmt.Errorf("gpio.%s must not be negative, got %d", name, pin))
			continue
		}
		if other, dup := pins[pin]; dup {
			errs = append(errs, fmt.Errorf("gpio.%s and gpio.%s share line %d", name, other, pin))
		}
		pins[pin] = name
	}
	if c.Shutdown.Wait < 0 {
		errs = append(errs, fmt.Errorf("shutdown.wait must not be negative, got %s", c.Shutdown.Wait))
	}
	if c.Notify.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("notify.rateLimitPerMinute must not be negative"))
	}
	if c.Notify.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("notify.eventBuffer must be at least 1, got %d", c.Notify.EventBuffer))
	}
	switch c.Tracing.Exporter {
	case "otlp", "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not one of otlp, stdout, none", c.Tracing.Exporter))
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
	}
	return errors.Join(errs...)
}
