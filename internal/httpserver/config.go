package httpserver

import "time"

// Config carries everything the HTTP facade needs to run.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	SigningKey     string
	Issuer         string
	RequestTimeout time.Duration
}

func (config Config) withDefaults() Config {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	return config
}
