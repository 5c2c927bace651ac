package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("UUIDv7: invalid UUID %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("UUIDv7: got version %d", u.Version())
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("UUIDv7 not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	id := NanoID(100)()
	if len(id) != 100 {
		t.Fatalf("NanoID(100): got length %d", len(id))
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestPageID(t *testing.T) {
	id := PageID()
	if !strings.HasPrefix(id, "pg_") || len(id) != 15 {
		t.Fatalf("PageID: got %q", id)
	}
}
