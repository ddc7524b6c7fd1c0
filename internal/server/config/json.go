package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/blocksync/internal/flagx"
)

// JsonConfig is an intermediate DTO used only for reading JSON
// configuration files. Absent keys leave the target Config untouched.
type JsonConfig struct {
	EndpointAddr   string `json:"endpoint_addr"`
	DatabaseDSN    string `json:"database_dsn"`
	DataDir        string `json:"data_dir"`
	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	MaxFrameSize   uint32 `json:"max_frame_size"`
	Verbose        *bool  `json:"verbose"`
}

// parseJson loads the JSON file named by -c/-config/$BLOCKSYNC_CONFIG into
// config. If the file cannot be read or contains invalid JSON, the function
// panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&config.EndpointAddr, c.EndpointAddr)
	overlay(&config.DatabaseDSN, c.DatabaseDSN)
	overlay(&config.DataDir, c.DataDir)
	overlay(&config.S3RootUser, c.S3RootUser)
	overlay(&config.S3RootPassword, c.S3RootPassword)
	overlay(&config.S3Bucket, c.S3Bucket)
	overlay(&config.S3Region, c.S3Region)
	overlay(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.MaxFrameSize != 0 {
		config.MaxFrameSize = c.MaxFrameSize
	}
	if c.Verbose != nil {
		config.Verbose = *c.Verbose
	}
}
