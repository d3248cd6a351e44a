package sandbox

import "time"

// Config controls naming, provisioning options and timing of a Driver.
type Config struct {
	// NamePrefix prefixes generated sandbox names (default "tp").
	NamePrefix string

	// AppLabel is the value of the "app" label on every sandbox (default "tutorpilot").
	AppLabel string

	// Port is the dev server port exposed for previews (default 3000).
	Port int

	Public              bool
	AutoStopInterval    time.Duration // default 120m
	AutoArchiveInterval time.Duration // default 24h
	AutoDeleteInterval  time.Duration // default 180m
	ProvisionTimeout    time.Duration // default 90s

	InstallCommand string // default "npm install"
	DevCommand     string // default "npm run dev"

	// SettleDelay is the wait between starting the dev server and the
	// first preview lookup (default 10s).
	SettleDelay time.Duration

	// PollChecks and PollInterval bound the post-start log polling
	// (default 3 checks, 5s apart).
	PollChecks   int
	PollInterval time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		NamePrefix:          "tp",
		AppLabel:            "tutorpilot",
		Port:                3000,
		Public:              true,
		AutoStopInterval:    120 * time.Minute,
		AutoArchiveInterval: 1440 * time.Minute,
		AutoDeleteInterval:  180 * time.Minute,
		ProvisionTimeout:    90 * time.Second,
		InstallCommand:      "npm install",
		DevCommand:          "npm run dev",
		SettleDelay:         10 * time.Second,
		PollChecks:          3,
		PollInterval:        5 * time.Second,
	}
}

// withDefaults fills zero-valued naming and command fields. Durations and
// PollChecks are left alone so tests can run with no waits.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NamePrefix == "" {
		c.NamePrefix = d.NamePrefix
	}
	if c.AppLabel == "" {
		c.AppLabel = d.AppLabel
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.InstallCommand == "" {
		c.InstallCommand = d.InstallCommand
	}
	if c.DevCommand == "" {
		c.DevCommand = d.DevCommand
	}
	return c
}
