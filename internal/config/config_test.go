package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("SCAN_SIGNATURE_SECRET", "qr-secret")
	t.Setenv("SCAN_RESCAN_WINDOW", "30m")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "qr-secret", cfg.Scan.SignatureSecret)
	assert.Equal(t, 30*time.Minute, cfg.Scan.RescanWindow)
	assert.Equal(t, 24*time.Hour, cfg.Scan.OutcomeCacheTTL)
	assert.Equal(t, time.Minute, cfg.Scan.DispatchRetryInterval)
	assert.False(t, cfg.Scan.RequireSignature)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "nimo", Password: "pw", DBName: "nimo_mes", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=nimo password=pw dbname=nimo_mes sslmode=disable", c.DSN())
}
