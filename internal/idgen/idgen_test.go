package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("rcpt_")
	if !strings.HasPrefix(id, "rcpt_") || len(id) != len("rcpt_")+24 {
		t.Errorf("unexpected id %q", id)
	}
	if WithPrefix("x_") == WithPrefix("x_") {
		t.Error("expected distinct ids")
	}
}

func TestRandom128Unique(t *testing.T) {
	seen := make(map[[16]byte]bool)
	for i := 0; i < 1000; i++ {
		n, err := Random128()
		if err != nil {
			t.Fatal(err)
		}
		if seen[n] {
			t.Fatal("duplicate 128-bit value")
		}
		seen[n] = true
	}
}

func TestUUID(t *testing.T) {
	if _, err := uuid.Parse(UUID()); err != nil {
		t.Errorf("UUID() not parseable: %v", err)
	}
}
