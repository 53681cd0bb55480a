package client_test

import (
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	. "rfsd/internal/client"
	log "rfsd/internal/minilog"
	"rfsd/internal/transport"
	"rfsd/internal/wire"
)

func init() {
	log.AddLogger("stderr", os.Stderr, log.WARN)
}

// fakeServer is a minimal, single-file stand-in for the Server Core used
// to exercise Client Core in isolation, in the same loopback-socket style
// as transport_test.go's echoServer.
type fakeServer struct {
	mu      sync.Mutex
	content []byte
	mtime   uint32
	addr    *net.UDPAddr
	conn    *net.UDPConn
	done    chan struct{}
}

func newFakeServer(t *testing.T, content string, mtime uint32) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeServer{
		content: []byte(content),
		mtime:   mtime,
		addr:    conn.LocalAddr().(*net.UDPAddr),
		conn:    conn,
		done:    make(chan struct{}),
	}
	go s.serve(t)
	t.Cleanup(s.stop)
	return s
}

func (s *fakeServer) stop() {
	select {
	case <-s.done:
		return // already stopped by the test itself
	default:
	}
	close(s.done)
	s.conn.Close()
}

func (s *fakeServer) serve(t *testing.T) {
	buf := make([]byte, transport.MaxDatagram)
	for {
		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil {
			continue
		}
		msg, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		s.handle(msg, addr)
	}
}

func (s *fakeServer) handle(msg wire.Message, addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case wire.ReadFileRequest:
		transport.SendOneway(wire.ReadFileResponse{ReplyID: uuid.New(), Mtime: s.mtime, Content: append([]byte(nil), s.content...)}, addr, nil)
	case wire.WriteFileRequest:
		end := int(m.Offset) + len(m.Content)
		if end > len(s.content) {
			grown := make([]byte, end)
			copy(grown, s.content)
			s.content = grown
		}
		copy(s.content[m.Offset:], m.Content)
		s.mtime++
		transport.SendOneway(wire.WriteFileResponse{ReplyID: uuid.New(), Success: true, Mtime: s.mtime}, addr, nil)
	case wire.AppendFileRequest:
		s.content = append(s.content, m.Content...)
		s.mtime++
		transport.SendOneway(wire.AppendFileResponse{ReplyID: uuid.New(), Success: true, Mtime: s.mtime}, addr, nil)
	case wire.DeleteFileRequest:
		s.content = nil
		transport.SendOneway(wire.DeleteFileResponse{ReplyID: uuid.New(), Success: true}, addr, nil)
	case wire.ModifiedTimestampRequest:
		transport.SendOneway(wire.ModifiedTimestampResponse{ReplyID: uuid.New(), Success: true, Mtime: s.mtime}, addr, nil)
	}
}

func testConfig(addr *net.UDPAddr, dir string) Config {
	return Config{
		ClientIP:          [4]byte{127, 0, 0, 1},
		ClientPort:        0,
		ServerAddr:        addr,
		CacheDir:          dir,
		FreshnessInterval: 10 * time.Second,
		MaxAttempts:       3,
		PerAttemptTimeout: time.Second,
	}
}

// TestRangeRead is scenario 1 from spec §8.
func TestRangeRead(t *testing.T) {
	srv := newFakeServer(t, "ABCDEFGHIJKLMNOPQRSTUVWXYZ", 1)
	dir := t.TempDir()
	c := New(testConfig(srv.addr, dir))

	got, err := c.Read("english_alphabets.txt", 4, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "EFGH" {
		t.Fatalf("got %q", got)
	}
}

// TestWriteAtOffset is scenario 2 from spec §8.
func TestWriteAtOffset(t *testing.T) {
	srv := newFakeServer(t, "0123456789", 1)
	dir := t.TempDir()
	c := New(testConfig(srv.addr, dir))

	ok, err := c.Write("digits.txt", 1, []byte("1234567890"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected write success")
	}

	got, err := c.Read("digits.txt", 0, 11, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "01234567890" {
		t.Fatalf("expected 01234567890 (len 11), got %q (len %d)", got, len(got))
	}
}

// TestFreshnessShortcutIssuesNoFurtherRequests is scenario 6 from spec §8.
func TestFreshnessShortcutIssuesNoFurtherRequests(t *testing.T) {
	srv := newFakeServer(t, "ABCDEFGHIJKLMNOPQRSTUVWXYZ", 1)
	dir := t.TempDir()
	cfg := testConfig(srv.addr, dir)
	cfg.FreshnessInterval = 10 * time.Second
	c := New(cfg)

	if _, err := c.Read("english_alphabets.txt", 0, 4, nil); err != nil {
		t.Fatal(err)
	}

	// stop the fake server: a second read within the freshness interval
	// must not touch the network at all.
	srv.stop()

	got, err := c.Read("english_alphabets.txt", 4, 4, nil)
	if err != nil {
		t.Fatalf("expected cache-only read to succeed with server down, got %v", err)
	}
	if string(got) != "EFGH" {
		t.Fatalf("got %q", got)
	}
}

// TestMtimeDisagreementTriggersRefetch is scenario 7 from spec §8.
func TestMtimeDisagreementTriggersRefetch(t *testing.T) {
	srv := newFakeServer(t, "hello", 1)
	dir := t.TempDir()
	cfg := testConfig(srv.addr, dir)
	cfg.FreshnessInterval = 0 // force the mtime check on every read past the first
	c := New(cfg)

	if _, err := c.Read("greeting.txt", 0, 5, nil); err != nil {
		t.Fatal(err)
	}

	srv.mu.Lock()
	srv.content = []byte("world")
	srv.mtime = 2
	srv.mu.Unlock()

	got, err := c.Read("greeting.txt", 0, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "world" {
		t.Fatalf("expected refetch to see updated content, got %q", got)
	}
}

func TestAppendPatchesCachedEntry(t *testing.T) {
	srv := newFakeServer(t, "Hello? Is it me you're looking for?", 5)
	dir := t.TempDir()
	c := New(testConfig(srv.addr, dir))

	if _, err := c.Read("quote.txt", 0, 36, nil); err != nil {
		t.Fatal(err)
	}

	ok, err := c.Append("quote.txt", []byte("a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected append success")
	}

	// with the server gone, a read inside the freshness interval is served
	// from the cache, which Append patched locally.
	srv.stop()

	got, err := c.Read("quote.txt", 0, 36, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Hello? Is it me you're looking for?a" {
		t.Fatalf("expected cached entry patched by append, got %q", got)
	}
}

func TestDeleteEvictsLocalCacheEntry(t *testing.T) {
	srv := newFakeServer(t, "x", 1)
	dir := t.TempDir()
	c := New(testConfig(srv.addr, dir))

	if _, err := c.Read("a.txt", 0, 1, nil); err != nil {
		t.Fatal(err)
	}

	ok, err := c.Delete("a.txt", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected delete success")
	}

	// a second read must re-fetch, proving the entry was evicted rather
	// than silently reused.
	srv.mu.Lock()
	srv.content = []byte("y")
	srv.mtime = 2
	srv.mu.Unlock()

	got, err := c.Read("a.txt", 0, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "y" {
		t.Fatalf("expected fresh fetch after delete, got %q", got)
	}
}

func TestServerModTime(t *testing.T) {
	srv := newFakeServer(t, "x", 42)
	dir := t.TempDir()
	c := New(testConfig(srv.addr, dir))

	mtime, ok, err := c.ServerModTime("a.txt", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || mtime != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", mtime, ok)
	}
}

// TestNoReplyExhaustionSurfacesSentinel is scenario 8 from spec §8, at the
// Client Core level.
func TestNoReplyExhaustionSurfacesSentinel(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	addr := conn.LocalAddr().(*net.UDPAddr)
	conn.Close()

	dir := t.TempDir()
	cfg := testConfig(addr, dir)
	cfg.MaxAttempts = 3
	cfg.PerAttemptTimeout = 50 * time.Millisecond
	c := New(cfg)

	_, err = c.Read("nowhere.txt", 0, 1, nil)
	if err != ErrNoReply {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
}
