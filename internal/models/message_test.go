package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderingKey(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want int64
	}{
		{"server timestamp wins", Message{ServerTimestamp: 3, SentAt: 2, ReceivedAt: 1}, 3},
		{"sent at next", Message{SentAt: 2, ReceivedAt: 1}, 2},
		{"received at last", Message{ReceivedAt: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.OrderingKey())
		})
	}
}

func TestNewMessageDefaults(t *testing.T) {
	msg := NewMessage("convo", DirectionIncoming)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "convo", msg.ConversationID)
	assert.Equal(t, KindRegular, msg.Kind)
	assert.Equal(t, ExpirationTypeUnknown, msg.ExpirationType)
	assert.Equal(t, ReadMessage, msg.Unread)

	other := NewMessage("convo", DirectionIncoming)
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestIsControlMessage(t *testing.T) {
	assert.False(t, (&Message{Kind: KindRegular}).IsControlMessage())
	assert.False(t, (&Message{}).IsControlMessage())
	assert.True(t, (&Message{Kind: KindGroupUpdate}).IsControlMessage())
	assert.True(t, (&Message{Kind: KindExpirationTimerUpdate}).IsControlMessage())
}

func TestAttachmentListFilePaths(t *testing.T) {
	list := AttachmentList{
		{Path: "/a.jpg"},
		{Path: ""},
		{Path: "/b.mp4"},
	}
	assert.Equal(t, []string{"/a.jpg", "/b.mp4"}, list.FilePaths())
}

func TestTruncateLastMessage(t *testing.T) {
	assert.Equal(t, "short", TruncateLastMessage("short"))

	long := strings.Repeat("é", LastMessagePreviewLen+50)
	truncated := TruncateLastMessage(long)
	assert.Equal(t, LastMessagePreviewLen, len([]rune(truncated)))
}
