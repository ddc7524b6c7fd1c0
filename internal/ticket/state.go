package ticket

import "fmt"

// State is the position of a ticket in its transfer.
type State int

const (
	StateNew State = iota
	// GetBlock(block_id=0) sent; inert until the block list arrives.
	StateAwaitingBlockList
	// Archive: uploading new blocks of the covering.
	StateSendingBlocks
	// Extract: requesting every block of the covering.
	StateSendingBlockRequests
	// Everything queued; waiting for the outstanding acks.
	StateAwaitingBlockConfirms
	// Archive: block list uploaded; waiting for its ack.
	StateAwaitingBlockListConfirm
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingBlockList:
		return "awaiting_block_list"
	case StateSendingBlocks:
		return "sending_blocks"
	case StateSendingBlockRequests:
		return "sending_block_requests"
	case StateAwaitingBlockConfirms:
		return "awaiting_block_confirms"
	case StateAwaitingBlockListConfirm:
		return "awaiting_block_list_confirm"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Direction int

const (
	Archive Direction = iota
	Extract
)

func (d Direction) String() string {
	if d == Extract {
		return "extract"
	}
	return "archive"
}
