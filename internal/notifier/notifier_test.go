package notifier

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/pkg/communication/chat"
)

type flakySender struct {
	failures int32
	sent     []*chat.Message
}

func (s *flakySender) Send(ctx context.Context, msg *chat.Message) error {
	if atomic.LoadInt32(&s.failures) > 0 {
		atomic.AddInt32(&s.failures, -1)
		return &NetworkError{}
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *flakySender) Close() error { return nil }

func TestNotifyRetriesOnNetworkError(t *testing.T) {
	sender := &flakySender{failures: 2}
	n := New(sender, Config{MaxRetries: 5, InitialBackoff: time.Millisecond})

	err := n.Notify(context.Background(), 42, "hello")
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "42", sender.sent[0].UserID)
}

type terminalSender struct{}

func (terminalSender) Send(ctx context.Context, msg *chat.Message) error {
	return assert.AnError
}
func (terminalSender) Close() error { return nil }

func TestNotifyDoesNotRetryTerminalError(t *testing.T) {
	n := New(terminalSender{}, Config{MaxRetries: 5, InitialBackoff: time.Millisecond})
	err := n.Notify(context.Background(), 1, "hi")
	require.Error(t, err)
}

func TestNotifyGivesUpAfterMaxRetries(t *testing.T) {
	sender := &flakySender{failures: 100}
	n := New(sender, Config{MaxRetries: 3, InitialBackoff: time.Millisecond})

	err := n.Notify(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.Empty(t, sender.sent)
}
