package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "rutatotal_db", cfg.DBName)
	assert.Equal(t, "disable", cfg.DBSSLMode)
	assert.Equal(t, "db_schema.sql", cfg.DBSchemaPath)
	assert.Contains(t, cfg.CORSAllowedOrigins, "http://localhost:3000")
}

func TestParseOverridesFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://panel.rutatotal.mx,https://reparto.rutatotal.mx")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t,
		[]string{"https://panel.rutatotal.mx", "https://reparto.rutatotal.mx"},
		cfg.CORSAllowedOrigins,
	)
}

func TestConnString(t *testing.T) {
	cfg := &Config{
		DBHost: "localhost", DBPort: "5432", DBUser: "u", DBPassword: "p",
		DBName: "d", DBSSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=u password=p dbname=d sslmode=disable",
		cfg.ConnString(),
	)
}
