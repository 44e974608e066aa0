package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/darstays/stayportal/internal/ports"
)

func TestInbox_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	in := NewInbox(2)
	ctx := context.Background()

	in.Notify(ctx, ports.Notification{Key: "a"})
	in.Notify(ctx, ports.Notification{Key: "b"})
	in.Notify(ctx, ports.Notification{Key: "c"})
	assert.Equal(t, 2, in.Len())

	got := in.Drain()
	assert.Equal(t, []ports.Notification{{Key: "b"}, {Key: "c"}}, got)
	assert.Equal(t, 0, in.Len())
	assert.Empty(t, in.Drain())
}

func TestNewInbox_DefaultSize(t *testing.T) {
	t.Parallel()
	in := NewInbox(0)
	for i := 0; i < defaultInboxSize+5; i++ {
		in.Notify(context.Background(), ports.Notification{Key: "k"})
	}
	assert.Equal(t, defaultInboxSize, in.Len())
}
