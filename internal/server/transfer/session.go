package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/protocol"
	"github.com/dmitrijs2005/blocksync/internal/server/services"
)

const serverName = "blocksync-server"

// Bye error codes sent by the server.
const (
	ByeOK       uint16 = 0
	ByeInternal uint16 = 1
)

type session struct {
	fr        *protocol.FrameReader
	w         *bufio.Writer
	archiveID uint32
	log       logging.Logger
}

func (c *session) send(m protocol.Message) error {
	if _, err := protocol.WriteFrame(c.w, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	// Acks are batched while the client has more requests in our buffer.
	if c.fr.Buffered() == 0 {
		return c.w.Flush()
	}
	return nil
}

func (c *session) abort(cause error) error {
	if _, err := protocol.WriteFrame(c.w, protocol.Bye{Version: protocol.Version, Error: ByeInternal}); err == nil {
		_ = c.w.Flush()
	}
	return cause
}

// HandleConn runs one session on conn and closes it. A client that goes
// away between frames ends the session without error.
func (s *Server) HandleConn(ctx context.Context, conn io.ReadWriteCloser, log logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	c := &session{
		fr:  protocol.NewFrameReader(conn, s.maxFrameSize),
		w:   bufio.NewWriter(conn),
		log: log,
	}

	if err := s.hello(ctx, c); err != nil {
		return err
	}

	for {
		m, err := c.fr.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch v := m.(type) {
		case protocol.PutBlock:
			err = s.putBlock(ctx, c, v)
		case protocol.GetBlock:
			err = s.getBlock(ctx, c, v)
		case protocol.Bye:
			c.log.Info(ctx, "client said bye", "archive_id", c.archiveID)
			if _, err := protocol.WriteFrame(c.w, protocol.Bye{Version: protocol.Version}); err != nil {
				return err
			}
			return c.w.Flush()
		default:
			return c.abort(fmt.Errorf("%w: unexpected %s", common.ErrProtocol, m.Kind()))
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) hello(ctx context.Context, c *session) error {
	m, err := c.fr.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	hello, ok := m.(protocol.Hello)
	if !ok {
		return fmt.Errorf("%w: expected Hello, got %s", common.ErrProtocol, m.Kind())
	}

	ack := protocol.HelloAck{Version: protocol.Version, Message: serverName}
	var failure error

	if hello.Version != protocol.Version {
		ack.Error = protocol.HelloErrVersion
		failure = fmt.Errorf("%w: client version %d", common.ErrProtocol, hello.Version)
	} else {
		a, err := s.archives.Open(ctx, hello.ArchiveID, hello.ArchivePass, hello.CreateArchive)
		switch {
		case err == nil:
			ack.ArchiveID = a.ID
			c.archiveID = a.ID
		case errors.Is(err, services.ErrBadPass):
			ack.Error = protocol.HelloErrBadPass
			failure = fmt.Errorf("%w: archive %d", common.ErrAuth, hello.ArchiveID)
		case errors.Is(err, services.ErrArchiveNotFound):
			ack.Error = protocol.HelloErrNoArchive
			failure = fmt.Errorf("%w: archive %d", common.ErrAuth, hello.ArchiveID)
		default:
			ack.Error = protocol.HelloErrInternal
			failure = err
		}
	}

	if _, err := protocol.WriteFrame(c.w, ack); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	if failure != nil {
		return failure
	}

	c.log = c.log.With("archive_id", c.archiveID)
	c.log.Info(ctx, "archive opened", "client", hello.Message, "created", hello.CreateArchive)
	return nil
}

func (s *Server) putBlock(ctx context.Context, c *session, m protocol.PutBlock) error {
	var remoteID uint32
	var err error
	if m.BlockID == 0 {
		err = s.blocks.PutBlockList(ctx, c.archiveID, m.FileID, m.Payload)
	} else {
		remoteID, err = s.blocks.PutBlock(ctx, c.archiveID, m.Payload)
	}
	if err != nil {
		return c.abort(fmt.Errorf("put block %d/%d: %w", m.FileID, m.BlockID, err))
	}

	c.log.Debug(ctx, "block stored", "file_id", m.FileID, "block_id", m.BlockID, "remote_id", remoteID, "size", len(m.Payload))
	return c.send(protocol.PutBlockAck{FileID: m.FileID, BlockID: m.BlockID, ArchiveID: remoteID})
}

// getBlock answers with an empty payload when the block is unknown; the
// client treats that as a failed block.
func (s *Server) getBlock(ctx context.Context, c *session, m protocol.GetBlock) error {
	var payload []byte
	var err error
	if m.BlockID == 0 {
		payload, err = s.blocks.GetBlockList(ctx, c.archiveID, m.FileID)
	} else {
		payload, err = s.blocks.GetBlock(ctx, c.archiveID, m.ArchiveID)
	}
	switch {
	case errors.Is(err, common.ErrorNotFound):
		c.log.Warn(ctx, "block not found", "file_id", m.FileID, "block_id", m.BlockID, "remote_id", m.ArchiveID)
		payload = nil
	case err != nil:
		return c.abort(fmt.Errorf("get block %d/%d: %w", m.FileID, m.BlockID, err))
	}

	return c.send(protocol.GetBlockAck{FileID: m.FileID, BlockID: m.BlockID, Payload: payload})
}
