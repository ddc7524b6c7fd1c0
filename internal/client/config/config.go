package config

import (
	"time"

	"github.com/dmitrijs2005/blocksync/internal/client/syncer"
	"github.com/dmitrijs2005/blocksync/internal/covering"
	"github.com/dmitrijs2005/blocksync/internal/protocol"
)

// Config holds runtime settings for the blocksync CLI.
type Config struct {
	ServerEndpointAddr string
	StateDB            string
	ArchiveID          uint32
	BlockLength        int
	DesiredQueueSize   int
	MaxTickets         int
	MaxFrameSize       uint32
	DialTimeout        time.Duration
	CreateArchive      bool
	Verbose            bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:7070"
	c.StateDB = "blocksync.db"
	c.ArchiveID = 0
	c.BlockLength = covering.DefaultBlockLength
	c.DesiredQueueSize = syncer.DefaultDesiredQueueSize
	c.MaxTickets = syncer.DefaultMaxTickets
	c.MaxFrameSize = protocol.DefaultMaxFrameSize
	c.DialTimeout = 10 * time.Second
	c.CreateArchive = false
	c.Verbose = false
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// SessionConfig is the part of Config the sync session needs.
func (c *Config) SessionConfig() syncer.Config {
	return syncer.Config{
		DesiredQueueSize: c.DesiredQueueSize,
		MaxTickets:       c.MaxTickets,
		MaxFrameSize:     c.MaxFrameSize,
	}
}
