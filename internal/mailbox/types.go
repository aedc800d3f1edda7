package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickgao/etron/internal/message"
)

// Config holds configuration for the Registry.
type Config struct {
	Shards   int // Default: 32
	Capacity int // Mailboxes the directory is pre-sized for, 0 allocates on demand. Default: 1024
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Shards:   32,
		Capacity: 1024,
	}
}

// Errors
var (
	ErrDoesNotExist    = errors.New("mailbox does not exist")
	ErrAlreadyExists   = errors.New("mailbox already exists")
	ErrSendFailed      = errors.New("mailbox send failed")
	ErrConsumerClaimed = errors.New("mailbox consumer already claimed")
)

// DoesNotExistError is returned when addressing an unknown client.
type DoesNotExistError struct {
	ID message.ClientID
}

func (e *DoesNotExistError) Error() string {
	return fmt.Sprintf("mailbox %s does not exist", e.ID)
}

// Is reports whether target is ErrDoesNotExist.
func (e *DoesNotExistError) Is(target error) bool {
	return target == ErrDoesNotExist
}

// SendFailedError is returned when the mailbox was closed under the sender.
type SendFailedError struct {
	ID message.ClientID
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("mailbox %s: send failed, queue closed", e.ID)
}

// Is reports whether target is ErrSendFailed.
func (e *SendFailedError) Is(target error) bool {
	return target == ErrSendFailed
}

// Producer is the send side of the registry. Safe for concurrent use.
type Producer interface {
	Send(id message.ClientID, msg message.Message) error
}

// Consumer is the exclusive receive side of one mailbox.
type Consumer interface {
	// ID returns the owning client id.
	ID() message.ClientID

	// Recv blocks until a message arrives. ok is false once the mailbox
	// is removed and drained; err is set when ctx ends first.
	Recv(ctx context.Context) (msg message.Message, ok bool, err error)

	// TryRecv returns the next queued message without blocking.
	TryRecv() (message.Message, bool)

	// Ready fires after a send. Drain with TryRecv.
	Ready() <-chan struct{}

	// Done is closed when the mailbox is removed.
	Done() <-chan struct{}

	// Release gives up the claim so the id can be claimed again.
	Release()
}

// Stats contains registry statistics.
type Stats struct {
	Mailboxes int
	Sent      int64
	Misses    int64 // sends to unknown ids
}
