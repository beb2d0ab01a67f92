package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/pkg/communication/chat"
	chatmem "github.com/olegeech-me/statustracker/pkg/communication/chat/adapters/memory"
)

func TestChatMemoryAdapter(t *testing.T) {
	sender := chatmem.New()
	defer sender.Close()

	ctx := context.Background()
	msg := &chat.Message{
		ChannelID: "C123",
		Text:      "application 12345/TP-2023 is now in progress",
	}

	err := sender.Send(ctx, msg)
	require.NoError(t, err)

	sent := sender.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, msg, sent[0])

	sender.Clear()
	assert.Empty(t, sender.SentMessages())
}

func TestChatMemoryAdapterConcurrentSends(t *testing.T) {
	sender := chatmem.New()
	defer sender.Close()

	ctx := context.Background()
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			_ = sender.Send(ctx, &chat.Message{ChannelID: "C1", Text: "msg"})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Len(t, sender.SentMessages(), 10)
}
