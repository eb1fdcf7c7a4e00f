// Package config provides configuration management for the payment core.
// Configuration can be loaded from YAML files and overridden by environment variables.
package config

import (
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"sync"
	"time"
)

// Config holds all configuration for the payment core.
// Values can be set via YAML configuration file or environment variables.
// Environment variables take precedence over YAML values.
type Config struct {
	IsDebug        bool  `yaml:"is_debug" env:"DEBUG" env-default:"false"`
	DisablePayment bool  `yaml:"disable_payment" env:"DISABLE_PAYMENT" env-default:"false"`
	LogRecords     int64 `yaml:"log_records" env:"LOG_RECORDS" env-default:"0"`
	Listen         struct {
		BindIP   string `yaml:"bind_ip" env:"BIND_IP" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env:"PORT" env-default:"5100"`
		TLS      bool   `yaml:"tls_enabled" env:"TLS_ENABLED" env-default:"false"`
		CertFile string `yaml:"cert_file" env:"TLS_CERT_FILE" env-default:""`
		KeyFile  string `yaml:"key_file" env:"TLS_KEY_FILE" env-default:""`
	} `yaml:"listen"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env:"MONGO_ENABLED" env-default:"false"`
		Host     string `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:"admin"`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:"pass"`
		Database string `yaml:"database" env:"MONGO_DATABASE" env-default:""`
	} `yaml:"mongo"`
	Merchant  MerchantConfig  `yaml:"merchant"`
	Billing   BillingConfig   `yaml:"billing"`
	Plans     []PlanConfig    `yaml:"plans"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// MerchantConfig describes the processor account and its endpoints.
type MerchantConfig struct {
	Secret     string        `yaml:"secret" env:"MERCHANT_SECRET" env-default:""`
	Code       string        `yaml:"code" env:"MERCHANT_CODE" env-default:""`
	Terminal   string        `yaml:"terminal" env:"MERCHANT_TERMINAL" env-default:""`
	Currency   string        `yaml:"currency" env:"MERCHANT_CURRENCY" env-default:"978"`
	NotifyUrl  string        `yaml:"notify_url" env:"MERCHANT_NOTIFY_URL" env-default:""`
	RequestUrl string        `yaml:"request_url" env:"MERCHANT_REQUEST_URL" env-default:"https://sis-t.redsys.es:25443/sis/rest/trataPeticionREST"`
	InitUrl    string        `yaml:"init_url" env:"MERCHANT_INIT_URL" env-default:"https://sis-t.redsys.es:25443/sis/rest/iniciaPeticionREST"`
	Timeout    time.Duration `yaml:"timeout" env:"MERCHANT_TIMEOUT" env-default:"30s"`
}

// BillingConfig controls the recurring renewal job.
type BillingConfig struct {
	BatchLimit   int  `yaml:"batch_limit" env:"BILLING_BATCH_LIMIT" env-default:"50"`
	MaxFailures  int  `yaml:"max_failures" env:"BILLING_MAX_FAILURES" env-default:"3"`
	RetryPastDue bool `yaml:"retry_past_due" env:"BILLING_RETRY_PAST_DUE" env-default:"true"`
}

// TelemetryConfig enables OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	Endpoint       string `yaml:"endpoint" env:"OTEL_ENDPOINT" env-default:"localhost:4318"`
	Insecure       bool   `yaml:"insecure" env:"OTEL_INSECURE" env-default:"false"`
	ServiceName    string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"paycore"`
	ServiceVersion string `yaml:"service_version" env:"OTEL_SERVICE_VERSION" env-default:"dev"`
}

// PlanConfig is one row of the price catalog; price is in major units ("9.99").
type PlanConfig struct {
	Type     string `yaml:"type"`
	Interval string `yaml:"interval"`
	Price    string `yaml:"price"`
}

// IsMerchantConfigured reports whether every setting needed to sign requests is present.
func (c *Config) IsMerchantConfigured() bool {
	return c.Merchant.Secret != "" && c.Merchant.Code != "" && c.Merchant.Terminal != ""
}

var instance *Config
var once sync.Once

// GetConfig loads configuration from the specified YAML file path.
// Configuration values can be overridden by environment variables.
// This function uses a singleton pattern and only loads the config once.
//
// Example:
//
//	cfg, err := config.GetConfig("config.yml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("load config: %w; %s", err, desc)
			instance = nil
		}
	})
	return instance, err
}
