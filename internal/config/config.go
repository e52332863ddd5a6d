// Package config loads tmig settings from a TOML file.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/zeebo/errs"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
)

// Error is the class of configuration errors.
var Error = errs.Class("config")

// Duration is a time.Duration read from a TOML string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Records names the template object and its fields.
type Records struct {
	Object    string `toml:"object"`
	KeyField  string `toml:"key_field"`
	NameField string `toml:"name_field"`
}

// Session tunes the store client.
type Session struct {
	APIVersion        string   `toml:"api_version"`
	CallTimeout       Duration `toml:"call_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// Minio configures the optional remote archive copy.
type Minio struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Folder    string `toml:"folder"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Insecure  bool   `toml:"insecure"`
}

// Enabled reports whether a MinIO destination is configured.
func (m Minio) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

// Archive configures where the audit zip goes.
type Archive struct {
	Dir      string `toml:"dir"`
	FileName string `toml:"file_name"`
	Minio    Minio  `toml:"minio"`
}

// Config is the full tmig configuration.
type Config struct {
	Source       salesforce.Credentials `toml:"source"`
	Target       salesforce.Credentials `toml:"target"`
	Records      Records                `toml:"records"`
	Session      Session                `toml:"session"`
	FetchWorkers int                    `toml:"fetch_workers"`
	Archive      Archive                `toml:"archive"`
	Ledger       string                 `toml:"ledger"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Source: salesforce.Credentials{Domain: salesforce.DomainLogin},
		Target: salesforce.Credentials{Domain: salesforce.DomainLogin},
		Records: Records{
			Object:    "APXTConga4__Conga_Template__c",
			KeyField:  "APXTConga4__Key__c",
			NameField: "Name",
		},
		Session: Session{
			APIVersion:        salesforce.DefaultAPIVersion,
			CallTimeout:       Duration{60 * time.Second},
			RequestsPerSecond: 10,
		},
		FetchWorkers: 4,
		Archive: Archive{
			Dir:      ".",
			FileName: "migrated_files.zip",
		},
		Ledger: "tmig.db",
	}
}

// Load reads path on top of the defaults. A missing file is not an error
// when optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, Error.New("read %s: %v", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, Error.New("parse %s: %v", path, err)
	}
	return cfg, nil
}

// Validate checks what every migration run needs.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return Error.New("source: %v", err)
	}
	if err := c.Target.Validate(); err != nil {
		return Error.New("target: %v", err)
	}
	return c.ValidateStatic()
}

// ValidateStatic checks the settings that do not depend on credentials.
func (c *Config) ValidateStatic() error {
	if c.Records.Object == "" || c.Records.KeyField == "" {
		return Error.New("records.object and records.key_field are required")
	}
	if c.Session.CallTimeout.Duration <= 0 {
		return Error.New("session.call_timeout must be positive")
	}
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 1
	}
	if c.Archive.FileName == "" {
		return Error.New("archive.file_name is required")
	}
	return nil
}
