// Package fsadapter is the server's thin translation of file operations
// against a root directory, plus the subscription registry (spec §3,
// §4.6). It is stateless with respect to file content — every operation
// resolves server_root/relative_path fresh — but the subscription table
// itself is obviously stateful and lives here, per spec §2's component
// breakdown ("Server File Adapter ... plus a subscription registry").
package fsadapter

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// SubscribedClient mirrors spec §3: a client interested in updates to a
// path, valid until ExpirationTS. The tuple is append-only while valid;
// entries past ExpirationTS are filtered out lazily at fan-out time.
type SubscribedClient struct {
	FilePath     string
	ClientIP     [4]byte
	ClientPort   uint32
	ExpirationTS time.Time
}

// Adapter resolves every path against Root and owns the subscription
// table (spec §3's SubscriptionTable: file_path -> ordered subscriber
// list, insertion order preserved).
type Adapter struct {
	Root string

	mu   sync.Mutex
	subs map[string][]SubscribedClient
}

// New returns an Adapter rooted at root, creating it if necessary.
func New(root string) (*Adapter, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &Adapter{
		Root: root,
		subs: make(map[string][]SubscribedClient),
	}, nil
}

func (a *Adapter) resolve(relPath string) string {
	return filepath.Join(a.Root, filepath.FromSlash(relPath))
}

// Read returns a file's full content. ok is false when the file does not
// exist; err carries any other I/O failure.
func (a *Adapter) Read(relPath string) (content []byte, ok bool, err error) {
	full := a.resolve(relPath)
	content, err = os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return content, true, nil
}

// Write applies a write-at-offset, atomically at the OS level (single
// seek+write). The file must already exist: a missing file is a NotFound,
// not an implicit create (spec §4.6, §7).
func (a *Adapter) Write(relPath string, offset uint32, content []byte) (ok bool, err error) {
	full := a.resolve(relPath)
	f, err := os.OpenFile(full, os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if _, err := f.WriteAt(content, int64(offset)); err != nil {
		return false, err
	}
	return true, nil
}

// Append adds content to the end of the file, creating it if it does not
// exist yet. Append is not in spec §7's file-not-found list (only
// read/write/mtime are), so a missing target is treated as an empty file
// to append to rather than a failure.
func (a *Adapter) Append(relPath string, content []byte) (ok bool, err error) {
	full := a.resolve(relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return false, err
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a file. No subscriber fan-out happens here or anywhere
// else for Delete (spec §9: preserved source behavior).
func (a *Adapter) Delete(relPath string) (ok bool, err error) {
	full := a.resolve(relPath)
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Mtime reports a file's modification time as a unix-seconds uint32, the
// width the wire format allots it (spec §6).
func (a *Adapter) Mtime(relPath string) (ok bool, mtime uint32, err error) {
	full := a.resolve(relPath)
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, uint32(fi.ModTime().Unix()), nil
}

// Subscribe registers a SubscribedClient for relPath, valid until
// now+interval. Always succeeds (spec §4.5: SubscribeToUpdatesRequest
// always replies success).
func (a *Adapter) Subscribe(clientIP [4]byte, clientPort uint32, interval time.Duration, relPath string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.subs[relPath] = append(a.subs[relPath], SubscribedClient{
		FilePath:     relPath,
		ClientIP:     clientIP,
		ClientPort:   clientPort,
		ExpirationTS: now.Add(interval),
	})
	return true
}

// Subscribers returns the non-expired subscribers of relPath, in the
// order they subscribed (spec §3, §5: fan-out order is insertion order).
// Expired entries are filtered lazily; no active sweep is required.
func (a *Adapter) Subscribers(relPath string, now time.Time) []SubscribedClient {
	a.mu.Lock()
	defer a.mu.Unlock()

	all := a.subs[relPath]
	live := make([]SubscribedClient, 0, len(all))
	for _, s := range all {
		if now.Before(s.ExpirationTS) {
			live = append(live, s)
		}
	}
	return live
}

// List enumerates the files under relDir, relative to Root. Used only by
// diagnostics/tests, not by any wire operation — grounded in iomeshage's
// own List, which exposes the same shape for the same reason.
func (a *Adapter) List(relDir string) ([]string, error) {
	full := a.resolve(relDir)
	var out []string
	err := filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.Root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
