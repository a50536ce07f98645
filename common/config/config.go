// Package config loads service configuration from an optional YAML file
// with environment overrides. A .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Exact struct {
		ClientID                string `yaml:"client_id"`
		ClientSecret            string `yaml:"client_secret"`
		Country                 string `yaml:"country"`
		RedirectURI             string `yaml:"redirect_uri"`
		RefreshThresholdMinutes int    `yaml:"refresh_threshold_minutes"`
	} `yaml:"exact"`

	Store struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"store"`
}

// Default returns the baseline configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.App.Env = "dev"
	cfg.Server.Addr = ":8000"
	cfg.Log.Level = "info"
	cfg.Exact.Country = "NL"
	cfg.Exact.RedirectURI = "http://127.0.0.1:8000/oauth/callback/"
	cfg.Exact.RefreshThresholdMinutes = 5
	cfg.Store.Kind = "memory"
	cfg.Store.Redis.Addr = "127.0.0.1:6379"
	cfg.Store.Redis.Prefix = "exactapi"
	return cfg
}

// Load reads path (optional) and applies environment overrides on top of
// the defaults. path == "" skips the file entirely.
func Load(path string) (*Config, error) {
	// best effort; absence of a .env file is normal
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.Server.Addr, "ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	setString(&cfg.Exact.ClientID, "EXACT_CLIENT_ID")
	setString(&cfg.Exact.ClientSecret, "EXACT_CLIENT_SECRET")
	setString(&cfg.Exact.Country, "EXACT_COUNTRY")
	setString(&cfg.Exact.RedirectURI, "EXACT_REDIRECT_URI")
	setInt(&cfg.Exact.RefreshThresholdMinutes, "EXACT_REFRESH_THRESHOLD_MINUTES")

	setString(&cfg.Store.Kind, "STORE_KIND")
	setString(&cfg.Store.Redis.Addr, "REDIS_ADDR")
	setInt(&cfg.Store.Redis.DB, "REDIS_DB")
	setString(&cfg.Store.Redis.Prefix, "REDIS_PREFIX")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
