// Package config reads the service configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime knob of the backend.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DBHost       string `env:"DB_HOST" envDefault:"localhost"`
	DBPort       string `env:"DB_PORT" envDefault:"5432"`
	DBUser       string `env:"DB_USER" envDefault:"rutatotal_user"`
	DBPassword   string `env:"DB_PASSWORD" envDefault:"rutatotal_password"`
	DBName       string `env:"DB_NAME" envDefault:"rutatotal_db"`
	DBSSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	DBSchemaPath string `env:"DB_SCHEMA_PATH" envDefault:"db_schema.sql"`

	// JWTSecret signs this service's own session tokens.
	JWTSecret string `env:"JWT_SECRET"`

	// IdentityTokenSecret verifies identity tokens minted by the OAuth
	// front-channel broker.
	IdentityTokenSecret string `env:"IDENTITY_TOKEN_SECRET"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3001"`
}

// Parse reads the configuration from environment variables.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ConnString builds the lib/pq connection string.
func (c *Config) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}
