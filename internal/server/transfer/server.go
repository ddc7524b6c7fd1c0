// Package transfer is the server end of the block protocol: it accepts
// connections and answers Hello, PutBlock, GetBlock and Bye.
package transfer

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/netx"
	"github.com/dmitrijs2005/blocksync/internal/server/models"
)

// Archives opens archives for Hello.
type Archives interface {
	Open(ctx context.Context, id, pass uint32, create bool) (*models.Archive, error)
}

// Blocks stores and fetches sealed payloads.
type Blocks interface {
	PutBlock(ctx context.Context, archiveID uint32, payload []byte) (uint32, error)
	PutBlockList(ctx context.Context, archiveID, fileID uint32, payload []byte) error
	GetBlock(ctx context.Context, archiveID, remoteID uint32) ([]byte, error)
	GetBlockList(ctx context.Context, archiveID, fileID uint32) ([]byte, error)
}

type Server struct {
	address      string
	archives     Archives
	blocks       Blocks
	logger       logging.Logger
	maxFrameSize uint32
	wg           sync.WaitGroup
}

func NewServer(address string, l logging.Logger, a Archives, b Blocks, maxFrameSize uint32) *Server {
	return &Server{
		address:      address,
		archives:     a,
		blocks:       b,
		logger:       l.With("module", "transfer_server"),
		maxFrameSize: maxFrameSize,
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := netx.Listen(ctx, s.address)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "Starting transfer server", "address", listen.Addr().String())
	return s.Serve(ctx, listen)
}

// Serve accepts connections on ln until ctx is done, then waits for open
// sessions to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping transfer server...")
		_ = ln.Close()
	}()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log := s.logger.With("remote", conn.RemoteAddr().String())
			if err := s.HandleConn(ctx, conn, log); err != nil {
				log.Error(ctx, "session ended with error", "error", err)
			}
		}()
	}
}
