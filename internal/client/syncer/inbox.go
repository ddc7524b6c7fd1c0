package syncer

import (
	"sync"

	"github.com/dmitrijs2005/blocksync/internal/protocol"
)

// inbox hands decoded frames from the reader goroutine to the session.
// It never blocks the reader, so the peer can always drain its writes.
type inbox struct {
	mu     sync.Mutex
	msgs   []protocol.Message
	err    error
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (in *inbox) signal() {
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *inbox) push(m protocol.Message) {
	in.mu.Lock()
	in.msgs = append(in.msgs, m)
	in.mu.Unlock()
	in.signal()
}

// fail records the error that ended the reader. It is reported after all
// messages received before it.
func (in *inbox) fail(err error) {
	in.mu.Lock()
	in.err = err
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) take() ([]protocol.Message, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	msgs := in.msgs
	in.msgs = nil
	return msgs, in.err
}
