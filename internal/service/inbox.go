package service

import (
	"context"
	"sync"

	"github.com/darstays/stayportal/internal/ports"
)

const defaultInboxSize = 16

// Inbox is a bounded, per-browser notification queue. When full, the oldest entry is
// dropped. Drain hands the pending notifications to the page that renders them.
type Inbox struct {
	mu    sync.Mutex
	items []ports.Notification
	max   int
}

// NewInbox creates an inbox that keeps at most size notifications.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &Inbox{max: size}
}

// Notify implements ports.Notifier.
func (in *Inbox) Notify(_ context.Context, n ports.Notification) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.items) >= in.max {
		in.items = in.items[1:]
	}
	in.items = append(in.items, n)
}

// Drain returns pending notifications oldest first and empties the inbox.
func (in *Inbox) Drain() []ports.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.items
	in.items = nil
	return out
}

// Len reports the number of pending notifications.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}
