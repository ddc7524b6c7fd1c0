package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/blocksync/internal/flagx"
	"github.com/dmitrijs2005/blocksync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// accept "10s" strings or integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	StateDB            string         `json:"state_db"`
	ArchiveID          uint32         `json:"archive_id"`
	BlockLength        int            `json:"block_length"`
	DesiredQueueSize   int            `json:"desired_queue_size"`
	MaxTickets         int            `json:"max_tickets"`
	MaxFrameSize       uint32         `json:"max_frame_size"`
	DialTimeout        timex.Duration `json:"dial_timeout"`
	CreateArchive      *bool          `json:"create_archive"`
	Verbose            *bool          `json:"verbose"`
}

// parseJson overlays Config with the non-empty values of the JSON file
// named by -c/-config/$BLOCKSYNC_CONFIG. It panics on read or parse errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.StateDB != "" {
		cfg.StateDB = jc.StateDB
	}
	if jc.ArchiveID != 0 {
		cfg.ArchiveID = jc.ArchiveID
	}
	if jc.BlockLength != 0 {
		cfg.BlockLength = jc.BlockLength
	}
	if jc.DesiredQueueSize != 0 {
		cfg.DesiredQueueSize = jc.DesiredQueueSize
	}
	if jc.MaxTickets != 0 {
		cfg.MaxTickets = jc.MaxTickets
	}
	if jc.MaxFrameSize != 0 {
		cfg.MaxFrameSize = jc.MaxFrameSize
	}
	if jc.DialTimeout.Duration != 0 {
		cfg.DialTimeout = jc.DialTimeout.Duration
	}
	if jc.CreateArchive != nil {
		cfg.CreateArchive = *jc.CreateArchive
	}
	if jc.Verbose != nil {
		cfg.Verbose = *jc.Verbose
	}
}
