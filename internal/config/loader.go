package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/mapsync/internal/db"
)

// Config is the full server configuration.
type Config struct {
	Addr           string
	Database       db.Config
	JWTSecret      string
	AllowedOrigins []string
	LockTTL        time.Duration
}

// Default returns the built-in configuration used when no file or
// environment overrides are present.
func Default() Config {
	return Config{
		Addr:           ":8080",
		Database:       db.DefaultConfig(),
		JWTSecret:      "dev-secret-change-me",
		AllowedOrigins: []string{"http://localhost:3000"},
		LockTTL:        5 * time.Minute,
	}
}

// Load reads config.yaml from configPath and applies environment overrides
// (MAPSYNC_ prefix, e.g. MAPSYNC_DATABASE_HOST). A missing file is not an
// error; defaults plus environment apply.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("MAPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("addr")
	v.BindEnv("jwt_secret")
	v.BindEnv("lock_ttl")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")

	// Config file not found is fine; defaults and env vars carry it.
	_ = v.ReadInConfig()

	if v.IsSet("addr") {
		cfg.Addr = v.GetString("addr")
	}
	if v.IsSet("jwt_secret") {
		cfg.JWTSecret = v.GetString("jwt_secret")
	}
	if v.IsSet("allowed_origins") {
		cfg.AllowedOrigins = v.GetStringSlice("allowed_origins")
	}
	if v.IsSet("lock_ttl") {
		cfg.LockTTL = v.GetDuration("lock_ttl")
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	return cfg, nil
}
