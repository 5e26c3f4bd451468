package bridge

import "testing"

func TestInboxRejectsWhenFull(t *testing.T) {
	ib := NewInbox(1)
	if !ib.Offer(Message{RoomID: "r1"}) {
		t.Fatal("expected first offer to succeed")
	}
	if ib.Offer(Message{RoomID: "r2"}) {
		t.Fatal("expected second offer to be rejected when inbox is full")
	}
	if ib.Len() != 1 {
		t.Fatalf("expected len 1, got %d", ib.Len())
	}
}
