// Package config defines the amebo process configuration. One Config is
// parsed in main and passed by reference to every component; nothing reads
// the environment after startup.
package config

import (
	"fmt"
	"time"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Engine string `long:"engine" env:"AMEBO_ENGINE" default:"embedded" choice:"embedded" choice:"networked" description:"Persistence backend"`
	DSN    string `long:"dsn" env:"AMEBO_DSN" default:"amebo.db" description:"Connection string (file path for embedded, postgres URL for networked)"`
}

// ServeConfig configures the HTTP surface.
type ServeConfig struct {
	Port          int `long:"port" env:"AMEBO_PORT" default:"3310" description:"Port to serve the broker API on"`
	MaxPagination int `long:"max-pagination" env:"MAX_PAGINATION" default:"100" description:"Hard cap on the pagination query parameter"`
}

// DispatchConfig paces the delivery daemon.
type DispatchConfig struct {
	EnvelopeSize int           `long:"envelope-size" env:"ENVELOPE_SIZE" default:"256" description:"Maximum gists attempted per dispatcher cycle"`
	RestWhen     int           `long:"rest-when" env:"REST_WHEN" default:"0" description:"Idle between cycles when a cycle picks fewer gists than this"`
	Idles        time.Duration `long:"idles" env:"IDLES" default:"5s" description:"Idle duration between sparse cycles"`
	Timeout      time.Duration `long:"delivery-timeout" env:"DELIVERY_TIMEOUT" default:"5s" description:"Per-request timeout of outbound deliveries"`
}

// VaultConfig holds token signing and administrator bootstrap material.
type VaultConfig struct {
	Secret   string `long:"secret" env:"AMEBO_SECRET" description:"Token signing secret (defaults to a deterministic per-host value)"`
	Username string `long:"username" env:"AMEBO_USERNAME" default:"administrator" description:"Administrator username upserted at startup"`
	Password string `long:"password" env:"AMEBO_PASSWORD" description:"Administrator password upserted at startup"`
}

// Config is the top-level configuration object of an amebo broker.
type Config struct {
	Store    StoreConfig    `group:"store" namespace:"store"`
	Serve    ServeConfig    `group:"serve" namespace:"serve"`
	Dispatch DispatchConfig `group:"dispatch" namespace:"dispatch"`
	Vault    VaultConfig    `group:"vault" namespace:"vault"`
}

// Validate sanity-checks parsed options before anything is constructed.
func (c *Config) Validate() error {
	if c.Store.Engine == "networked" && c.Store.DSN == "" {
		return fmt.Errorf("networked engine requires --store.dsn")
	}
	if c.Dispatch.EnvelopeSize < 1 {
		return fmt.Errorf("envelope size %d is not positive", c.Dispatch.EnvelopeSize)
	}
	if c.Serve.MaxPagination < 1 {
		return fmt.Errorf("max pagination %d is not positive", c.Serve.MaxPagination)
	}
	return nil
}
