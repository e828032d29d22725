package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"payroll-closing-backend/internal/services/comparison"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "CLOSING"

type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Database DatabaseSettings `mapstructure:"database"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Log      LogSettings      `mapstructure:"log"`
	Engine   EngineSettings   `mapstructure:"engine"`
}

type ServerSettings struct {
	Addr        string   `mapstructure:"addr" validate:"required"`
	Store       string   `mapstructure:"store" validate:"oneof=postgres memory"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseSettings struct {
	Host            string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	Enabled         bool          `mapstructure:"-"`
}

// DSN builds the postgres connection string.
func (d DatabaseSettings) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type RedisSettings struct {
	Addr    string        `mapstructure:"addr"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type LogSettings struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
}

// EngineSettings are the business knobs of the reconciliation engine.
type EngineSettings struct {
	ThresholdPct         float64                      `mapstructure:"threshold_pct" validate:"gt=0"`
	ExcludedCategories   []string                     `mapstructure:"excluded_categories"`
	IndividualCategories []string                     `mapstructure:"individual_categories"`
	BaselineStatuses     []string                     `mapstructure:"baseline_statuses" validate:"min=1"`
	RequiredSources      []string                     `mapstructure:"required_sources"`
	SystemActorID        string                       `mapstructure:"system_actor_id" validate:"required"`
	SystemActorName      string                       `mapstructure:"system_actor_name"`
	Policies             map[string]comparison.Policy `mapstructure:"policies"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.store", "postgres")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "payroll_closing")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)
	v.SetDefault("database.lock_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("engine.threshold_pct", 30)
	v.SetDefault("engine.excluded_categories", []string{"informativo"})
	v.SetDefault("engine.individual_categories", []string{})
	v.SetDefault("engine.baseline_statuses", []string{"finalized"})
	v.SetDefault("engine.required_sources", []string{"libro_remuneraciones", "novedades"})
	v.SetDefault("engine.system_actor_id", "system")
	v.SetDefault("engine.system_actor_name", "Sistema")
}

// Load reads .env, the optional config file at path and CLOSING_* env vars,
// in increasing order of precedence, and validates the result.
func Load(path string) (*Settings, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.Database.Enabled = s.Server.Store == "postgres"

	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks s and reports every failing field.
func Validate(s *Settings) error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(fields, ", "))
}
