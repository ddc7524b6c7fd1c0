package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags around a subcommand",
			args: []string{"cmd", "archive", "-a", "10.0.0.1:7070", "-n", "/data", "-s", "state.db", "-i", "3",
				"-l", "2048", "-q", "4096", "-t", "5", "-m", "8192", "-w", "2", "-v"},
			expected: &Config{
				ServerEndpointAddr: "10.0.0.1:7070",
				StateDB:            "state.db",
				ArchiveID:          3,
				BlockLength:        2048,
				DesiredQueueSize:   4096,
				MaxTickets:         5,
				MaxFrameSize:       8192,
				DialTimeout:        2 * time.Second,
				CreateArchive:      true,
				Verbose:            true,
			},
		},
		{name: "bad archive id", args: []string{"cmd", "-i", "abc"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
