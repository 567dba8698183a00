package mq

import "testing"

func TestNewMessageMintsDistinctIDs(t *testing.T) {
	t.Parallel()

	first := NewMessage([]byte("a"))
	second := NewMessage([]byte("b"))
	if first.ID == "" || second.ID == "" {
		t.Fatal("expected message ids to be populated")
	}
	if first.ID == second.ID {
		t.Errorf("expected distinct ids, got %q twice", first.ID)
	}
	if first.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestSetHeader(t *testing.T) {
	t.Parallel()

	message := &Message{}
	message.SetHeader("x-submission-id", "sub-1")
	if message.Headers["x-submission-id"] != "sub-1" {
		t.Errorf("headers: got %v", message.Headers)
	}
}
