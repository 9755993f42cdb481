package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Credentials are provider secrets read from the environment. They fill
// values the YAML file leaves empty, so secrets can stay out of the file.
type Credentials struct {
	PriceChartingToken string   `env:"CARDPRICE_PRICECHARTING_TOKEN"`
	CertToken          string   `env:"CARDPRICE_CERT_TOKEN"`
	PokemonTCGAPIKey   string   `env:"CARDPRICE_POKEMONTCG_API_KEY"`
	TCGDBAPIKeys       []string `env:"CARDPRICE_TCGDB_API_KEYS" envSeparator:","`
	EbayClientID       string   `env:"CARDPRICE_EBAY_CLIENT_ID"`
	EbayClientSecret   string   `env:"CARDPRICE_EBAY_CLIENT_SECRET"`
	AISearchAPIKey     string   `env:"CARDPRICE_AISEARCH_API_KEY"`
	DatabaseURL        string   `env:"CARDPRICE_DATABASE_URL"`
	RedisPassword      string   `env:"CARDPRICE_REDIS_PASSWORD"`
}

// LoadCredentials parses Credentials from the process environment.
func LoadCredentials() (Credentials, error) {
	var creds Credentials
	if err := env.Parse(&creds); err != nil {
		return Credentials{}, fmt.Errorf("parse env: %w", err)
	}
	return creds, nil
}

// ApplyCredentials copies non-empty credentials into matching source entries
// and cache settings where the YAML left them blank.
func ApplyCredentials(cfg *Config, creds Credentials) {
	fill := func(source, key string, value interface{}) {
		switch v := value.(type) {
		case string:
			if v == "" {
				return
			}
		case []string:
			if len(v) == 0 {
				return
			}
		}
		if sc, ok := cfg.Source(source); ok {
			sc.SetDefault(key, value)
		}
	}

	fill("pricecharting", "token", creds.PriceChartingToken)
	fill("graded", "price_token", creds.PriceChartingToken)
	fill("graded", "cert_token", creds.CertToken)
	fill("pokemontcg", "api_key", creds.PokemonTCGAPIKey)
	fill("tcgdb", "api_keys", creds.TCGDBAPIKeys)
	fill("ebay", "client_id", creds.EbayClientID)
	fill("ebay", "client_secret", creds.EbayClientSecret)
	fill("aisearch", "api_key", creds.AISearchAPIKey)

	if cfg.Cache.DSN == "" && creds.DatabaseURL != "" {
		cfg.Cache.DSN = creds.DatabaseURL
	}
	if cfg.Cache.Redis.Password == "" && creds.RedisPassword != "" {
		cfg.Cache.Redis.Password = creds.RedisPassword
	}
}
