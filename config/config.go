/*
Package config loads service settings from the environment.

SOURCES (later wins):
  1. Defaults below
  2. An optional .env file (godotenv); missing files are ignored
  3. Environment variables prefixed ATTENDANCE_ (ATTENDANCE_PORT, ...)
  4. Command-line flags, applied by cmd/server

KEYS:
  env                 dev | test | prod
  port                HTTP port
  db_driver           sqlite | postgres
  db_path             SQLite file (db_driver=sqlite)
  database_url        Postgres DSN (db_driver=postgres)
  timezone            Program timezone for cutoff arithmetic
  cutoff_schedule     Optional JSON schedule (see factory.ParseSchedule)
  late_session_rate   Amount owed per late session, decimal string
  currency            Payout currency
  jwt_secret          HS256 signing secret
  jwt_ttl             Token lifetime
  rollbar_token       Enables Rollbar reporting when set
  reconcile_enabled   Run the reconciliation scheduler
  reconcile_interval  Time between reconciliation runs
  allowed_origins     Comma separated CORS origins
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "ATTENDANCE"

const devSecret = "dev-only-attendance-secret"

type Config struct {
	Env               string
	Port              string
	DBDriver          string
	DBPath            string
	DatabaseURL       string
	Timezone          string
	CutoffSchedule    string
	LateSessionRate   string
	Currency          string
	JWTSecret         string
	JWTTTL            time.Duration
	RollbarToken      string
	ReconcileEnabled  bool
	ReconcileInterval time.Duration
	AllowedOrigins    []string
}

func defaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "./attendance.db")
	v.SetDefault("database_url", "")
	v.SetDefault("timezone", "Africa/Nairobi")
	v.SetDefault("cutoff_schedule", "")
	v.SetDefault("late_session_rate", "500")
	v.SetDefault("currency", "KES")
	v.SetDefault("jwt_secret", devSecret)
	v.SetDefault("jwt_ttl", 12*time.Hour)
	v.SetDefault("rollbar_token", "")
	v.SetDefault("reconcile_enabled", true)
	v.SetDefault("reconcile_interval", time.Hour)
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
}

// Load reads the configuration. envFile may be empty.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	conf := Config{
		Env:               strings.ToLower(v.GetString("env")),
		Port:              v.GetString("port"),
		DBDriver:          strings.ToLower(v.GetString("db_driver")),
		DBPath:            v.GetString("db_path"),
		DatabaseURL:       v.GetString("database_url"),
		Timezone:          v.GetString("timezone"),
		CutoffSchedule:    v.GetString("cutoff_schedule"),
		LateSessionRate:   v.GetString("late_session_rate"),
		Currency:          v.GetString("currency"),
		JWTSecret:         v.GetString("jwt_secret"),
		JWTTTL:            v.GetDuration("jwt_ttl"),
		RollbarToken:      v.GetString("rollbar_token"),
		ReconcileEnabled:  v.GetBool("reconcile_enabled"),
		ReconcileInterval: v.GetDuration("reconcile_interval"),
		AllowedOrigins:    splitList(v.GetString("allowed_origins")),
	}
	return conf, conf.Validate()
}

// Validate checks settings that would otherwise fail later at startup.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("config: db_path is required for sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: database_url is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown db_driver %q", c.DBDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.IsProduction() && c.JWTSecret == devSecret {
		return errors.New("config: jwt_secret must be set in prod")
	}
	if c.ReconcileEnabled && c.ReconcileInterval <= 0 {
		return errors.New("config: reconcile_interval must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool { return c.Env == "prod" }

// Location loads the program timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
