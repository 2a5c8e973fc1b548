package config

import (
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/handlers/firewall"
	"github.com/charleshuang3/onboard/internal/handlers/middleware"
	"github.com/charleshuang3/onboard/internal/identity"
	"github.com/charleshuang3/onboard/internal/invite"
	"github.com/charleshuang3/onboard/internal/notify"
)

var (
	logger = log.With().Str("component", "config").Logger()
)

type RedeemConfig struct {
	Attempts    int           `yaml:"attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

func (c *RedeemConfig) applyDefaults() {
	if c.Attempts <= 0 {
		c.Attempts = invite.DefaultRedeemPolicy.Attempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = invite.DefaultRedeemPolicy.RetryDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = invite.DefaultRedeemPolicy.SettleDelay
	}
}

func (c *RedeemConfig) Policy() invite.RedeemPolicy {
	return invite.RedeemPolicy{
		Attempts:    c.Attempts,
		RetryDelay:  c.RetryDelay,
		SettleDelay: c.SettleDelay,
	}
}

type Config struct {
	Port    uint   `yaml:"port"`
	GinMode string `yaml:"gin_mode"`

	// WebOrigin of the web app hosting the signup page.
	WebOrigin string `yaml:"web_origin"`

	DB       gormw.Config            `yaml:"db"`
	Auth     middleware.AuthConfig   `yaml:"auth"`
	SMTP     notify.SMTPConfig       `yaml:"smtp"`
	Identity identity.Config         `yaml:"identity"`
	Redeem   RedeemConfig            `yaml:"redeem"`
	Firewall firewall.FirewallConfig `yaml:"firewall"`
}

func LoadConfig(path string) *Config {
	cfg := &Config{}

	file, err := os.Open(path)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to open config file: %s", path)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to decode config file")
	}

	cfg.validate()

	return cfg
}

func (c *Config) validate() {
	if c.Port == 0 {
		logger.Fatal().Msg("Port is missing")
	}

	if c.GinMode == "" {
		logger.Fatal().Msg("GinMode is missing")
	}

	if c.WebOrigin == "" {
		logger.Fatal().Msg("WebOrigin is missing")
	}
	if u, err := url.Parse(c.WebOrigin); err != nil || u.Scheme == "" || u.Host == "" {
		logger.Fatal().Msgf("WebOrigin %q is not an absolute url", c.WebOrigin)
	}

	c.Auth.Validate()
	c.SMTP.Validate()
	c.Firewall.Validate()
	c.Redeem.applyDefaults()
}
