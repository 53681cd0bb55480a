package cache_test

import (
	"os"
	"testing"
	"time"

	. "rfsd/internal/cache"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir, err := os.MkdirTemp("", "rfsd-cache-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return New(dir)
}

func TestPutThenReadRoundTrips(t *testing.T) {
	c := newTestCache(t)
	if c.IsCached("digits.txt") {
		t.Fatal("expected not cached before Put")
	}

	now := time.Now()
	if err := c.Put("digits.txt", []byte("0123456789"), now, 100); err != nil {
		t.Fatal(err)
	}
	if !c.IsCached("digits.txt") {
		t.Fatal("expected cached after Put")
	}

	got, err := c.Read("digits.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123456789" {
		t.Fatalf("got %q", got)
	}

	mt, err := c.ModificationTS("digits.txt")
	if err != nil {
		t.Fatal(err)
	}
	if mt != 100 {
		t.Fatalf("expected mtime 100, got %d", mt)
	}
}

// TestUpdateAfterWriteDoesNotRefreshTimestamps pins down spec §4.3's
// invariant: a local patch never advances modification_ts, so a later
// freshness check still has to ask the server.
func TestUpdateAfterWriteDoesNotRefreshTimestamps(t *testing.T) {
	c := newTestCache(t)
	validationTS := time.Now().Add(-time.Hour)
	if err := c.Put("digits.txt", []byte("0123456789"), validationTS, 100); err != nil {
		t.Fatal(err)
	}

	if err := c.UpdateAfterWrite("digits.txt", 1, []byte("1234567890")); err != nil {
		t.Fatal(err)
	}

	got, err := c.Read("digits.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "01234567890" {
		t.Fatalf("expected 01234567890 (len 11), got %q (len %d)", got, len(got))
	}

	mt, err := c.ModificationTS("digits.txt")
	if err != nil {
		t.Fatal(err)
	}
	if mt != 100 {
		t.Fatalf("expected mtime unchanged at 100, got %d", mt)
	}
	vt, err := c.ValidationTS("digits.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !vt.Equal(validationTS) {
		t.Fatalf("expected validation_ts unchanged, got %v want %v", vt, validationTS)
	}
}

func TestUpdateAfterAppendDoesNotRefreshTimestamps(t *testing.T) {
	c := newTestCache(t)
	validationTS := time.Now().Add(-time.Hour)
	content := "Hello? Is it me you're looking for?"
	if err := c.Put("quote.txt", []byte(content), validationTS, 5); err != nil {
		t.Fatal(err)
	}

	if err := c.UpdateAfterAppend("quote.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}

	got, err := c.Read("quote.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content+"a" {
		t.Fatalf("got %q", got)
	}

	mt, err := c.ModificationTS("quote.txt")
	if err != nil {
		t.Fatal(err)
	}
	if mt != 5 {
		t.Fatalf("expected mtime unchanged, got %d", mt)
	}
}

func TestValidateBumpsOnlyValidationTS(t *testing.T) {
	c := newTestCache(t)
	if err := c.Put("a.txt", []byte("x"), time.Unix(0, 0), 1); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := c.Validate("a.txt", now); err != nil {
		t.Fatal(err)
	}

	vt, _ := c.ValidationTS("a.txt")
	if !vt.Equal(now) {
		t.Fatalf("expected validation_ts == now, got %v", vt)
	}
	mt, _ := c.ModificationTS("a.txt")
	if mt != 1 {
		t.Fatalf("expected mtime unchanged at 1, got %d", mt)
	}
}

func TestRemoveEvictsMemoryAndDisk(t *testing.T) {
	c := newTestCache(t)
	if err := c.Put("a.txt", []byte("x"), time.Now(), 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove("a.txt"); err != nil {
		t.Fatal(err)
	}
	if c.IsCached("a.txt") {
		t.Fatal("expected evicted from memory")
	}
	if _, err := c.Read("a.txt"); err == nil {
		t.Fatal("expected Read to fail after Remove")
	}
}

func TestReplaceRefreshesContentAndTimestamps(t *testing.T) {
	c := newTestCache(t)
	if err := c.Put("a.txt", []byte("old"), time.Unix(0, 0), 1); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := c.Replace("a.txt", []byte("new"), 2, now); err != nil {
		t.Fatal(err)
	}

	got, _ := c.Read("a.txt")
	if string(got) != "new" {
		t.Fatalf("got %q", got)
	}
	mt, _ := c.ModificationTS("a.txt")
	if mt != 2 {
		t.Fatalf("expected mtime 2, got %d", mt)
	}
	vt, _ := c.ValidationTS("a.txt")
	if !vt.Equal(now) {
		t.Fatalf("expected validation_ts refreshed")
	}
}
