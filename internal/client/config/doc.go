// Package config loads runtime configuration for the blocksync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c, -config or $BLOCKSYNC_CONFIG.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the block store server
//	-s string   path of the local state database
//	-i uint     archive id (0 means the one remembered in the state database)
//	-l int      block length for new coverings
//	-q int      desired number of unacknowledged bytes in flight
//	-t int      maximum number of files in flight
//	-w int      dial timeout (seconds)
//	-n          create a new archive if none is known
//	-v          debug logging
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:7070",
//	  "state_db": "blocksync.db",
//	  "archive_id": 3,
//	  "block_length": 1024,
//	  "desired_queue_size": 8192,
//	  "max_tickets": 20,
//	  "dial_timeout": "10s",
//	  "create_archive": false,
//	  "verbose": false
//	}
package config
