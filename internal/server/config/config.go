// Package config handles configuration for the block store server,
// including defaults, JSON overlay, and command-line flags.
package config

import "github.com/dmitrijs2005/blocksync/internal/protocol"

// Config holds runtime settings for the blocksync server.
//
// Fields:
//   - EndpointAddr: TCP bind address of the transfer endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty keeps the registry in memory.
//   - DataDir: root of the filesystem object store, used when S3Bucket is empty.
//   - S3RootUser / S3RootPassword: static credentials for the S3-compatible backend.
//   - S3Bucket / S3Region / S3BaseEndpoint: object storage settings.
//   - MaxFrameSize: largest accepted protocol frame body.
type Config struct {
	EndpointAddr   string
	DatabaseDSN    string
	DataDir        string
	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	MaxFrameSize   uint32
	Verbose        bool
}

// LoadDefaults populates Config with development defaults: no database,
// blocks kept on the local filesystem.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":7070"
	c.DatabaseDSN = ""
	c.DataDir = "data"
	c.S3RootUser = ""
	c.S3RootPassword = ""
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.MaxFrameSize = protocol.DefaultMaxFrameSize
	c.Verbose = false
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
