package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type blockingNotifier struct {
	release chan struct{}
	Recorder
}

func (b *blockingNotifier) Notify(ctx context.Context, n Notification) error {
	<-b.release
	return b.Recorder.Notify(ctx, n)
}

func TestAsyncDeliversAfterClose(t *testing.T) {
	rec := &Recorder{}
	a := NewAsync(rec, 4, nil)
	require.NoError(t, a.Notify(context.Background(), Notification{HumanID: "BILL-001", Roles: []string{"finance"}}))
	require.NoError(t, a.Notify(context.Background(), Notification{HumanID: "BILL-002", IsFinal: true}))
	a.Close()

	sent := rec.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, "BILL-001", sent[0].HumanID)
	require.True(t, sent[1].IsFinal)
	require.ErrorIs(t, a.Notify(context.Background(), Notification{}), ErrClosed)
}

func TestAsyncDropsWhenBufferFull(t *testing.T) {
	slow := &blockingNotifier{release: make(chan struct{})}
	var dropped []string
	a := NewAsync(slow, 1, nil, WithDropHook(func(n Notification) { dropped = append(dropped, n.HumanID) }))

	// The first notification may be picked up by the loop, so fill past capacity.
	var full bool
	for i := 0; i < 3; i++ {
		if err := a.Notify(context.Background(), Notification{HumanID: "EXP-00" + string(rune('1'+i))}); err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
			full = true
		}
	}
	require.True(t, full)
	require.NotEmpty(t, dropped)

	close(slow.release)
	a.Close()
	require.Equal(t, 3-len(dropped), len(slow.Sent()))
}
