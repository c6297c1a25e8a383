package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMTPMailerHonoursCancelledContext(t *testing.T) {
	m := NewSMTPMailer("127.0.0.1", 1, "", "", "noreply@neargo.test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, Message{To: "a@example.com", Subject: "hi", Text: "hello"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogMailerNeverFails(t *testing.T) {
	err := LogMailer{}.Send(context.Background(), Message{
		To:          "a@example.com",
		Subject:     "Your ticket",
		Attachments: []Attachment{{Filename: "ticket.png", ContentType: "image/png", Data: []byte{1, 2}}},
	})
	assert.NoError(t, err)
}
