package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the complete service configuration. It is loaded once at
// startup and handed down explicitly; no package keeps configuration state.
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	SheetSync SheetSyncConfig `envconfig:"SHEET_SYNC"`
}

type ServerConfig struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
}

type DatabaseConfig struct {
	Dir  string `envconfig:"DIR" default:"data"`
	File string `envconfig:"FILE" default:"license.db"`
	// QueryTimeout bounds every store operation; a timed-out query surfaces
	// as a store fault, never as a license decision.
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" default:"5s"`
}

type AuthConfig struct {
	AdminUsername string        `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword string        `envconfig:"ADMIN_PASSWORD" default:"admin"`
	JWTSecret     string        `envconfig:"JWT_SECRET" default:"change-me"`
	TokenTTL      time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
}

type SheetSyncConfig struct {
	Enabled        bool   `envconfig:"ENABLED" default:"false"`
	CredentialPath string `envconfig:"CREDENTIAL_PATH"`
	SpreadsheetID  string `envconfig:"SPREADSHEET_ID"`
	SheetName      string `envconfig:"SHEET_NAME" default:"Licenses"`
}

// Load reads configuration from LICSRV_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LICSRV", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if cfg.SheetSync.Enabled && (cfg.SheetSync.CredentialPath == "" || cfg.SheetSync.SpreadsheetID == "") {
		return nil, fmt.Errorf("sheet sync enabled but credential path or spreadsheet id missing")
	}
	return &cfg, nil
}
