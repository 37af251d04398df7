package sessionvars

import (
	"context"
	"testing"
	"time"
)

func TestDisabledStore(t *testing.T) {
	ctx := context.Background()

	stores := []*Store{
		nil,
		New("", "session:", time.Hour),
	}

	for _, s := range stores {
		if s.Enabled() {
			t.Fatal("store without address should be disabled")
		}
		if err := s.Set(ctx, "sid", "field", "value"); err != nil {
			t.Errorf("Set on disabled store: %v", err)
		}
		if err := s.Incr(ctx, "sid", "frames"); err != nil {
			t.Errorf("Incr on disabled store: %v", err)
		}
		if err := s.Drop(ctx, "sid"); err != nil {
			t.Errorf("Drop on disabled store: %v", err)
		}
		if _, err := s.Get(ctx, "sid", "field"); err == nil {
			t.Error("Get on disabled store should fail")
		}
		if err := s.Close(); err != nil {
			t.Errorf("Close on disabled store: %v", err)
		}
	}
}

func TestKeyPrefix(t *testing.T) {
	s := &Store{prefix: "signrelay:session:"}
	if got := s.key("abc"); got != "signrelay:session:abc" {
		t.Errorf("unexpected key %q", got)
	}
}
