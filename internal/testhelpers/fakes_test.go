package testhelpers

import (
	"context"
	"testing"
)

type collectHandler struct {
	Deltas []string
}

func (c *collectHandler) OnDelta(s string) { c.Deltas = append(c.Deltas, s) }

func TestFakeProvider_Chat(t *testing.T) {
	fp := &FakeProvider{Resp: "ok"}
	out, err := fp.Chat(context.Background(), nil, "", 0, 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestFakeProvider_ChatStream(t *testing.T) {
	fp := &FakeProvider{StreamDeltas: []string{"a", "b", "c"}}
	h := &collectHandler{}
	if err := fp.ChatStream(context.Background(), nil, "", 0, 0, h); err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if len(h.Deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(h.Deltas))
	}
}
