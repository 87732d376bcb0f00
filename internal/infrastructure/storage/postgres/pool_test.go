package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolConfig_SessionSettings(t *testing.T) {
	cfg := DefaultPoolConfig("postgres://localhost/tireshop")
	cfg.StatementTimeout = time.Minute

	assert.Equal(t, [][2]string{
		{"application_name", "tireshop"},
		{"lock_timeout", "5000"},
		{"statement_timeout", "60000"},
	}, cfg.sessionSettings())
}

func TestPoolConfig_SessionSettingsSkipsZero(t *testing.T) {
	cfg := PoolConfig{DSN: "postgres://localhost/tireshop"}
	assert.Empty(t, cfg.sessionSettings())
}
