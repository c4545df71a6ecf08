package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Database struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Username string `envconfig:"DB_USERNAME" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"`
	Database string `envconfig:"DB_DATABASE" default:"storefront"`
	Schema   string `envconfig:"DB_SCHEMA" default:"public"`
}

type FastPay struct {
	TmnCode    string `envconfig:"FASTPAY_TMN_CODE"`
	HashSecret string `envconfig:"FASTPAY_HASH_SECRET"`
	PayURL     string `envconfig:"FASTPAY_PAY_URL" default:"https://pay.fastpay.vn/gateway/v2/payin"`
	ReturnURL  string `envconfig:"FASTPAY_RETURN_URL"`
}

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Database Database
	FastPay  FastPay

	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`

	ReconcileInterval   time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	ReconcileStaleAfter time.Duration `envconfig:"RECONCILE_STALE_AFTER" default:"15m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
