package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, 30.0, s.Engine.ThresholdPct)
	assert.Equal(t, []string{"informativo"}, s.Engine.ExcludedCategories)
	assert.Equal(t, []string{"finalized"}, s.Engine.BaselineStatuses)
	assert.Equal(t, "system", s.Engine.SystemActorID)
	assert.Equal(t, 5*time.Second, s.Database.LockTimeout)
	assert.True(t, s.Database.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closing.yaml")
	yaml := `
server:
  store: memory
engine:
  threshold_pct: 25
  individual_categories: [haberes, bonos]
  policies:
    "novedades|movimientos_mes":
      ignore_employee_only_in_b: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CLOSING_ENGINE_THRESHOLD_PCT", "12.5")
	t.Setenv("CLOSING_REDIS_ADDR", "localhost:6379")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", s.Server.Store)
	assert.False(t, s.Database.Enabled)
	assert.Equal(t, 12.5, s.Engine.ThresholdPct)
	assert.Equal(t, []string{"haberes", "bonos"}, s.Engine.IndividualCategories)
	assert.Equal(t, "localhost:6379", s.Redis.Addr)
	require.Contains(t, s.Engine.Policies, "novedades|movimientos_mes")
	assert.True(t, s.Engine.Policies["novedades|movimientos_mes"].IgnoreEmployeeOnlyInB)
}

func TestValidate(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	s.Engine.ThresholdPct = 0
	s.Server.Store = "sqlite"
	err = Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ThresholdPct")
	assert.Contains(t, err.Error(), "Store")
}

func TestDSN(t *testing.T) {
	d := DatabaseSettings{Host: "db", Port: "5432", User: "u", Password: "p", Name: "closing", SSLMode: "disable"}
	assert.Equal(t, "host=db user=u password=p dbname=closing port=5432 sslmode=disable TimeZone=UTC", d.DSN())
}
