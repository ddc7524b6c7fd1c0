package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/blocksync/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   transfer bind address (e.g., ":7070")
//	-d string   PostgreSQL DSN
//	-f string   filesystem object store root
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-m uint     max frame size, bytes
//	-v          debug logging
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-f", "-u", "-p", "-b", "-g", "-e", "-m"})
	args = append(args, flagx.FilterBoolArgs(os.Args[1:], []string{"-v"})...)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DataDir, "f", config.DataDir, "filesystem object store root")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	maxFrameSize := fs.Uint("m", uint(config.MaxFrameSize), "max frame size (in bytes)")
	fs.BoolVar(&config.Verbose, "v", config.Verbose, "debug logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MaxFrameSize = uint32(*maxFrameSize)
}
