package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	if len(a) != 26 {
		t.Fatalf("unexpected id length %d", len(a))
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, ok := Time(NewAt(at))
	if !ok {
		t.Fatal("expected id to parse")
	}
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
	if _, ok := Time("not-a-ulid"); ok {
		t.Fatal("expected parse failure")
	}
}
