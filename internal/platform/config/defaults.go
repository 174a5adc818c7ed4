package config

import "time"

// Defaults returns a configuration pre-filled with the values the connector
// ships with. The QR timeout and artifact filename mirror the fixed values of
// the workflow node this service replaces.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8090,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "logs",
			File:  "zalo-connector.log",
		},
		Zalo: ZaloConfig{
			GatewayURL:   "http://127.0.0.1:4000",
			QRTimeout:    30 * time.Second,
			SelfListen:   true,
			ArtifactDir:  "artifacts",
			ArtifactFile: "zalo-qr-code.png",
		},
		Store: StoreConfig{
			URL:            "http://127.0.0.1:5678",
			CredentialType: "zaloApi",
			Timeout:        15 * time.Second,
		},
		License: LicenseConfig{
			URL:     "https://api.diveinthebluesky.xyz/verify",
			Timeout: 10 * time.Second,
			Cache: LicenseCacheConfig{
				Prefix: "license:code:",
				TTL:    time.Hour,
			},
		},
		Storage: StorageConfig{
			DSN: "zalo-connector.db",
		},
		Reconcile: ReconcileConfig{
			Workers:    2,
			QueueSize:  16,
			MaxRetries: 2,
		},
	}
}
