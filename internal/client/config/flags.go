package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/flagx"
)

// ValueFlags lists the client flags that take a value. The CLI uses it to
// tell flag values apart from positional arguments.
var ValueFlags = []string{"-a", "-s", "-i", "-l", "-q", "-t", "-m", "-w", "-c", "-config"}

var boolFlags = []string{"-n", "-v"}

// parseFlags populates Config fields from command-line flags. Only the
// flags listed above are considered, so subcommands and their arguments
// pass through untouched.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], ValueFlags[:8])
	args = append(args, flagx.FilterBoolArgs(os.Args[1:], boolFlags)...)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port of the block store")
	fs.StringVar(&cfg.StateDB, "s", cfg.StateDB, "local state database")
	archiveID := fs.Uint("i", uint(cfg.ArchiveID), "archive id")
	fs.IntVar(&cfg.BlockLength, "l", cfg.BlockLength, "block length")
	fs.IntVar(&cfg.DesiredQueueSize, "q", cfg.DesiredQueueSize, "unacknowledged bytes in flight")
	fs.IntVar(&cfg.MaxTickets, "t", cfg.MaxTickets, "files in flight")
	maxFrameSize := fs.Uint("m", uint(cfg.MaxFrameSize), "frame size limit shared with the block store")
	dialTimeout := fs.Int("w", int(cfg.DialTimeout.Seconds()), "dial timeout (in seconds)")
	fs.BoolVar(&cfg.CreateArchive, "n", cfg.CreateArchive, "create a new archive")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "debug logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.ArchiveID = uint32(*archiveID)
	cfg.MaxFrameSize = uint32(*maxFrameSize)
	cfg.DialTimeout = time.Duration(*dialTimeout) * time.Second
}
