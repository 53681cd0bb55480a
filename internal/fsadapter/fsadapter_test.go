package fsadapter_test

import (
	"os"
	"testing"
	"time"

	. "rfsd/internal/fsadapter"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	dir, err := os.MkdirTemp("", "rfsd-root-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	a, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestReadMissingFileIsNotOK(t *testing.T) {
	a := newTestAdapter(t)
	_, ok, err := a.Read("nope.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing file")
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	a := newTestAdapter(t)
	if err := os.WriteFile(a.Root+"/digits.txt", []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	ok, err := a.Write("digits.txt", 1, []byte("1234567890"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected write to succeed")
	}

	content, ok, err := a.Read("digits.txt")
	if err != nil || !ok {
		t.Fatalf("read failed: ok=%v err=%v", ok, err)
	}
	if string(content) != "01234567890" {
		t.Fatalf("expected 01234567890 (len 11), got %q (len %d)", content, len(content))
	}
}

func TestWriteMissingFileFails(t *testing.T) {
	a := newTestAdapter(t)
	ok, err := a.Write("nope.txt", 0, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected write against a missing file to fail")
	}
}

func TestAppendCreatesMissingFile(t *testing.T) {
	a := newTestAdapter(t)
	ok, err := a.Append("new.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected append to succeed")
	}

	content, ok, err := a.Read("new.txt")
	if err != nil || !ok {
		t.Fatalf("read failed: ok=%v err=%v", ok, err)
	}
	if string(content) != "hello" {
		t.Fatalf("got %q", content)
	}
}

func TestAppendOnExistingFile(t *testing.T) {
	a := newTestAdapter(t)
	if err := os.WriteFile(a.Root+"/quote.txt", []byte("Hello? Is it me you're looking for?"), 0644); err != nil {
		t.Fatal(err)
	}

	ok, err := a.Append("quote.txt", []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected append to succeed")
	}

	content, _, err := a.Read("quote.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "Hello? Is it me you're looking for?a" {
		t.Fatalf("got %q", content)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	a := newTestAdapter(t)
	if err := os.WriteFile(a.Root+"/a.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ok, err := a.Delete("a.txt")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	_, ok, err = a.Read("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected file gone after Delete")
	}
}

func TestMtimeMissingFileIsNotOK(t *testing.T) {
	a := newTestAdapter(t)
	ok, _, err := a.Mtime("nope.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing file")
	}
}

func TestSubscribeThenSubscribersInInsertionOrder(t *testing.T) {
	a := newTestAdapter(t)
	now := time.Now()

	if ok := a.Subscribe([4]byte{127, 0, 0, 1}, 9001, time.Minute, "digits.txt", now); !ok {
		t.Fatal("expected subscribe to succeed")
	}
	if ok := a.Subscribe([4]byte{127, 0, 0, 1}, 9002, time.Minute, "digits.txt", now); !ok {
		t.Fatal("expected subscribe to succeed")
	}

	subs := a.Subscribers("digits.txt", now)
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(subs))
	}
	if subs[0].ClientPort != 9001 || subs[1].ClientPort != 9002 {
		t.Fatalf("expected insertion order preserved, got %+v", subs)
	}
}

func TestSubscribersExcludesExpired(t *testing.T) {
	a := newTestAdapter(t)
	now := time.Now()

	a.Subscribe([4]byte{127, 0, 0, 1}, 9001, time.Second, "digits.txt", now)

	later := now.Add(time.Hour)
	subs := a.Subscribers("digits.txt", later)
	if len(subs) != 0 {
		t.Fatalf("expected expired subscriber excluded, got %d", len(subs))
	}
}
