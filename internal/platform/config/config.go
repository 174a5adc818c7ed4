package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Zalo      ZaloConfig      `yaml:"zalo"`
	Store     StoreConfig     `yaml:"credential_store"`
	License   LicenseConfig   `yaml:"license"`
	Storage   StorageConfig   `yaml:"storage"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

type ServerConfig struct {
	IP    string `yaml:"ip"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// ZaloConfig controls the QR login session and the artifact it produces.
type ZaloConfig struct {
	GatewayURL   string        `yaml:"gateway_url"`
	Proxy        string        `yaml:"proxy"`
	QRTimeout    time.Duration `yaml:"qr_timeout"`
	SelfListen   bool          `yaml:"self_listen"`
	ArtifactDir  string        `yaml:"artifact_dir"`
	ArtifactFile string        `yaml:"artifact_file"`
}

// StoreConfig points at the workflow engine's credential API.
type StoreConfig struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	CredentialType string        `yaml:"credential_type"`
	Timeout        time.Duration `yaml:"timeout"`
}

type LicenseConfig struct {
	URL     string             `yaml:"url"`
	Timeout time.Duration      `yaml:"timeout"`
	Cache   LicenseCacheConfig `yaml:"cache"`
}

type LicenseCacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

type ReconcileConfig struct {
	Workers    int `yaml:"workers"`
	QueueSize  int `yaml:"queue_size"`
	MaxRetries int `yaml:"max_retries"`
}
