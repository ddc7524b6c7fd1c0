// Package syncer drives work tickets over one connection to a block store.
// A Session owns the connection and the ticket arena from a single
// goroutine; a second goroutine only decodes incoming frames.
package syncer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/cryptox"
	"github.com/dmitrijs2005/blocksync/internal/ledger"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/protocol"
	"github.com/dmitrijs2005/blocksync/internal/ticket"
)

const (
	DefaultDesiredQueueSize = 8192
	DefaultMaxTickets       = 20
)

var (
	// ErrPeerClosed means the peer said Bye while work was still in flight.
	ErrPeerClosed = errors.New("peer ended the session")
	// ErrStalled means tickets remain but nothing is in flight to move them.
	ErrStalled = errors.New("session stalled")
)

type Config struct {
	// DesiredQueueSize caps unacknowledged bytes on the wire.
	DesiredQueueSize int
	// MaxTickets caps the number of files in flight.
	MaxTickets int
	// MaxFrameSize is the frame limit shared with the peer; zero means
	// protocol.DefaultMaxFrameSize.
	MaxFrameSize uint32
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DesiredQueueSize <= 0 {
		out.DesiredQueueSize = DefaultDesiredQueueSize
	}
	if out.MaxTickets <= 0 {
		out.MaxTickets = DefaultMaxTickets
	}
	return out
}

// Stats summarizes one Archive or Extract run.
type Stats struct {
	Archived         int
	Unchanged        int
	Extracted        int
	Incomplete       int
	Skipped          int
	Failed           int
	BlocksUploaded   int
	BlocksReused     int
	BlocksDownloaded int
	IncompleteFiles  []string
}

type flightKey struct {
	fileID  uint32
	blockID uint32
}

// job produces the ticket for one file, or nil if the file needs no work.
type job func(ctx context.Context) (*ticket.Ticket, error)

type Session struct {
	conn io.ReadWriteCloser
	fr   *protocol.FrameReader
	w    *bufio.Writer
	cfg  Config
	env  *ticket.Env
	led  *ledger.Ledger
	log  logging.Logger

	tickets map[uint32]*ticket.Ticket
	order   []uint32
	rr      int

	inflight      map[flightKey]int
	inflightBytes int

	in         *inbox
	readerOnce sync.Once
	stats      Stats
}

// NewSession wraps conn. A Session runs one Hello followed by one Archive
// or Extract; the caller closes it afterwards.
func NewSession(conn io.ReadWriteCloser, l *ledger.Ledger, codec cryptox.Codec, coverer ticket.Coverer, cfg Config, log logging.Logger) *Session {
	cfg = cfg.withDefaults()
	log = log.With("module", "syncer")
	return &Session{
		conn: conn,
		fr:   protocol.NewFrameReader(conn, cfg.MaxFrameSize),
		w:    bufio.NewWriter(conn),
		cfg:  cfg,
		env: &ticket.Env{
			Codec:        codec,
			Ledger:       l,
			Coverer:      coverer,
			Log:          log,
			MaxFrameSize: cfg.MaxFrameSize,
		},
		led:      l,
		log:      log,
		tickets:  make(map[uint32]*ticket.Ticket),
		inflight: make(map[flightKey]int),
		in:       newInbox(),
	}
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) send(m protocol.Message) error {
	if _, err := protocol.WriteFrame(s.w, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	return nil
}

func (s *Session) flush() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Hello opens the archive. With archiveID 0 and create set, the peer
// creates a new archive and its id is returned. On success the session's
// ledger is bound to the opened archive.
func (s *Session) Hello(ctx context.Context, archiveID, pass uint32, create bool) (uint32, error) {
	if err := s.send(protocol.Hello{
		Version:       protocol.Version,
		ArchiveID:     archiveID,
		ArchivePass:   pass,
		CreateArchive: create,
		Message:       "blocksync",
	}); err != nil {
		return 0, err
	}
	if err := s.flush(); err != nil {
		return 0, err
	}

	if d, ok := ctx.Deadline(); ok {
		if rd, ok := s.conn.(readDeadliner); ok {
			_ = rd.SetReadDeadline(d)
			defer func() { _ = rd.SetReadDeadline(time.Time{}) }()
		}
	}

	m, err := s.fr.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read hello ack: %w", err)
	}
	ack, ok := m.(protocol.HelloAck)
	if !ok {
		return 0, fmt.Errorf("%w: expected HelloAck, got %s", common.ErrProtocol, m.Kind())
	}

	switch ack.Error {
	case protocol.HelloOK:
		s.log.Info(ctx, "archive opened", "archive_id", ack.ArchiveID, "peer", ack.Message)
		s.led = s.led.ForArchive(ack.ArchiveID)
		s.env.Ledger = s.led
		return ack.ArchiveID, nil
	case protocol.HelloErrBadPass, protocol.HelloErrNoArchive:
		return 0, fmt.Errorf("%w: %s", common.ErrAuth, ack.Error)
	default:
		return 0, fmt.Errorf("%w: hello rejected: %s %s", common.ErrProtocol, ack.Error, ack.Message)
	}
}

// QueueFull reports whether the ticket arena is at capacity.
func (s *Session) QueueFull() bool {
	return len(s.tickets) >= s.cfg.MaxTickets
}

func (s *Session) startReader() {
	s.readerOnce.Do(func() {
		go func() {
			for {
				m, err := s.fr.ReadMessage()
				if err != nil {
					s.in.fail(err)
					return
				}
				s.in.push(m)
			}
		}()
	})
}

// run admits jobs as the arena frees up and moves messages until every
// ticket is done, then exchanges Bye with the peer.
func (s *Session) run(ctx context.Context, jobs []job) error {
	s.startReader()
	defer s.CheckForOrphanWork(ctx)

	for {
		for len(jobs) > 0 && !s.QueueFull() {
			j := jobs[0]
			jobs = jobs[1:]
			s.admit(ctx, j)
		}

		sent, err := s.pump(ctx)
		if err != nil {
			return err
		}
		s.reap(ctx)

		if len(s.tickets) == 0 {
			if len(jobs) == 0 {
				return s.goodbye(ctx)
			}
			continue
		}
		if !sent && len(s.inflight) == 0 {
			return fmt.Errorf("%w: %d tickets waiting with nothing in flight", ErrStalled, len(s.tickets))
		}
		if len(jobs) > 0 && !s.QueueFull() {
			continue
		}

		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) admit(ctx context.Context, j job) {
	tk, err := j(ctx)
	if err != nil {
		s.log.Warn(ctx, "file skipped", "error", err)
		s.stats.Failed++
		return
	}
	if tk == nil {
		return
	}
	if _, dup := s.tickets[tk.FileID]; dup {
		s.log.Warn(ctx, "file already in flight", "file_id", tk.FileID, "path", tk.Path)
		s.stats.Skipped++
		return
	}
	if err := tk.Start(ctx, s.env); err != nil {
		s.log.Warn(ctx, "cannot start file", "file_id", tk.FileID, "path", tk.Path, "error", err)
		_ = tk.Close()
		s.stats.Failed++
		return
	}
	s.tickets[tk.FileID] = tk
	s.order = append(s.order, tk.FileID)
}

// pump asks tickets for messages round-robin, one per ticket per pass,
// until the byte watermark is reached or no ticket has anything to send.
func (s *Session) pump(ctx context.Context) (bool, error) {
	sentAny := false
	for s.inflightBytes < s.cfg.DesiredQueueSize && len(s.order) > 0 {
		progressed := false
		var failed []*ticket.Ticket

		n := len(s.order)
		for i := 0; i < n && s.inflightBytes < s.cfg.DesiredQueueSize; i++ {
			tk := s.tickets[s.order[(s.rr+i)%n]]
			if tk.Finished() {
				continue
			}

			m, err := tk.NextMessage(ctx, s.env)
			if err != nil {
				failed = append(failed, tk)
				s.log.Error(ctx, "file abandoned", "file_id", tk.FileID, "path", tk.Path, "error", err)
				continue
			}
			if m == nil {
				continue
			}

			cost := tk.RequestCost(m)
			if err := s.send(m); err != nil {
				return sentAny, err
			}
			s.inflight[flightKey{tk.FileID, blockIDOf(m)}] = cost
			s.inflightBytes += cost
			progressed, sentAny = true, true
		}
		s.rr++

		for _, tk := range failed {
			s.drop(tk)
			s.stats.Failed++
		}
		if !progressed {
			break
		}
	}
	return sentAny, s.flush()
}

func blockIDOf(m protocol.Message) uint32 {
	switch v := m.(type) {
	case protocol.PutBlock:
		return v.BlockID
	case protocol.GetBlock:
		return v.BlockID
	}
	return 0
}

func (s *Session) release(fileID, blockID uint32) {
	k := flightKey{fileID, blockID}
	if cost, ok := s.inflight[k]; ok {
		s.inflightBytes -= cost
		delete(s.inflight, k)
	}
}

func (s *Session) drop(tk *ticket.Ticket) {
	_ = tk.Close()
	delete(s.tickets, tk.FileID)
	for i, id := range s.order {
		if id == tk.FileID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Session) reap(ctx context.Context) {
	var done []*ticket.Ticket
	for _, id := range s.order {
		if tk := s.tickets[id]; tk.Finished() {
			done = append(done, tk)
		}
	}
	for _, tk := range done {
		switch {
		case tk.Direction == ticket.Archive:
			s.stats.Archived++
			s.stats.BlocksUploaded += tk.Uploaded
			s.stats.BlocksReused += tk.Reused
		case tk.Incomplete:
			s.stats.Incomplete++
			s.stats.IncompleteFiles = append(s.stats.IncompleteFiles, tk.Path)
		default:
			s.stats.Extracted++
		}
		s.stats.BlocksDownloaded += tk.Downloaded
		s.drop(tk)
	}
}

// wait blocks until the peer sends something and dispatches it.
func (s *Session) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.in.notify:
	}

	msgs, readErr := s.in.take()
	for _, m := range msgs {
		if err := s.dispatch(ctx, m); err != nil {
			return err
		}
	}
	if readErr != nil {
		return fmt.Errorf("connection lost: %w", readErr)
	}
	return nil
}

func (s *Session) dispatch(ctx context.Context, m protocol.Message) error {
	switch v := m.(type) {
	case protocol.PutBlockAck:
		s.release(v.FileID, v.BlockID)
		tk, ok := s.tickets[v.FileID]
		if !ok {
			s.log.Warn(ctx, "ack for unknown file", "file_id", v.FileID, "block_id", v.BlockID)
			return nil
		}
		if err := tk.OnPutBlockAck(ctx, s.env, v.BlockID, v.ArchiveID); err != nil {
			s.log.Error(ctx, "file abandoned", "file_id", tk.FileID, "path", tk.Path, "error", err)
			s.drop(tk)
			s.stats.Failed++
		}
	case protocol.GetBlockAck:
		s.release(v.FileID, v.BlockID)
		tk, ok := s.tickets[v.FileID]
		if !ok {
			s.log.Warn(ctx, "block for unknown file", "file_id", v.FileID, "block_id", v.BlockID)
			return nil
		}
		if err := tk.OnGetBlockAck(ctx, s.env, v.BlockID, v.Payload); err != nil {
			s.log.Error(ctx, "file abandoned", "file_id", tk.FileID, "path", tk.Path, "error", err)
			s.drop(tk)
			s.stats.Failed++
		}
	case protocol.Bye:
		return fmt.Errorf("%w: %d files in flight", ErrPeerClosed, len(s.tickets))
	default:
		return fmt.Errorf("%w: unexpected %s from peer", common.ErrProtocol, m.Kind())
	}
	return nil
}

// goodbye sends Bye and waits for the peer's Bye.
func (s *Session) goodbye(ctx context.Context) error {
	if err := s.send(protocol.Bye{Version: protocol.Version}); err != nil {
		return err
	}
	if err := s.flush(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.in.notify:
		}

		msgs, readErr := s.in.take()
		for _, m := range msgs {
			switch v := m.(type) {
			case protocol.Bye:
				return nil
			case protocol.PutBlockAck:
				s.release(v.FileID, v.BlockID)
			case protocol.GetBlockAck:
				s.release(v.FileID, v.BlockID)
			default:
				return fmt.Errorf("%w: unexpected %s after bye", common.ErrProtocol, m.Kind())
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", readErr)
		}
	}
}

// CheckForOrphanWork logs and releases every ticket still in the arena.
// It returns how many there were. Nothing is retried; a file whose summary
// was not written is picked up again by the next run.
func (s *Session) CheckForOrphanWork(ctx context.Context) int {
	n := len(s.tickets)
	for _, id := range append([]uint32(nil), s.order...) {
		tk := s.tickets[id]
		s.log.Warn(ctx, "orphaned work ticket", "file_id", tk.FileID, "path", tk.Path,
			"state", tk.State.String(), "pending_acks", tk.NumBlocksMoved)
		s.drop(tk)
	}
	return n
}
