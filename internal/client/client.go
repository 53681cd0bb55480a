// Package client implements the Client Core: read/write/append/delete/
// subscribe, orchestrated against the wire codec, the UDP transport, and
// the local content cache (spec §4.4).
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"rfsd/internal/cache"
	log "rfsd/internal/minilog"
	"rfsd/internal/transport"
	"rfsd/internal/wire"
)

// ErrNoReply is returned by every operation when the transport exhausts
// its retries without a reply. Per spec §4.4/§7, the outcome is then
// genuinely unknown to the caller, not a failure.
var ErrNoReply = transport.ErrNoReply

// ErrNotFound is synthesized locally from a ReadFileResponse carrying
// mtime=0 and empty content — the source protocol has no explicit
// success flag on that reply, so mtime=0 is treated as the not-found
// sentinel (spec §9, open question).
var ErrNotFound = errors.New("client: file not found on server")

// Config holds everything a Client needs that spec §4.4 names:
// client_port, server_addr, cache_dir, freshness_interval_seconds, plus
// the retransmission parameters the transport layer requires.
type Config struct {
	ClientIP          [4]byte
	ClientPort        uint32
	ServerAddr        *net.UDPAddr
	CacheDir          string
	FreshnessInterval time.Duration
	MaxAttempts       int
	PerAttemptTimeout time.Duration
}

// Client is the orchestration layer described in spec §4.4. It owns a
// Cache instance; nothing else mutates it.
type Client struct {
	cfg   Config
	cache *cache.Cache
}

// New returns a Client configured per cfg. It does not touch the network.
func New(cfg Config) *Client {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PerAttemptTimeout == 0 {
		cfg.PerAttemptTimeout = 2 * time.Second
	}
	return &Client{
		cfg:   cfg,
		cache: cache.New(cfg.CacheDir),
	}
}

func (c *Client) sendRequest(msg wire.Message, drop *transport.DropSwitch) (wire.Message, error) {
	return transport.SendRequest(msg, c.cfg.ServerAddr, c.cfg.MaxAttempts, c.cfg.PerAttemptTimeout, drop)
}

// Read implements spec §4.4's four-step freshness algorithm: fetch on
// first access, serve from cache within the freshness interval, confirm
// via a cheap mtime check once the interval has elapsed, and refetch
// only when the server's mtime has actually moved.
func (c *Client) Read(path string, offset, nbytes uint32, drop *transport.DropSwitch) ([]byte, error) {
	now := time.Now()

	if !c.cache.IsCached(path) {
		content, mtime, err := c.fetchWholeFile(path, drop)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Put(path, content, now, mtime); err != nil {
			return nil, err
		}
		return sliceBytes(content, offset, nbytes)
	}

	validationTS, err := c.cache.ValidationTS(path)
	if err != nil {
		return nil, err
	}

	if now.Sub(validationTS) < c.cfg.FreshnessInterval {
		log.Debug("read %s: within freshness interval, serving from cache", path)
		content, err := c.cache.Read(path)
		if err != nil {
			return nil, err
		}
		return sliceBytes(content, offset, nbytes)
	}

	serverMtime, ok, err := c.ServerModTime(path, drop)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	cachedMtime, err := c.cache.ModificationTS(path)
	if err != nil {
		return nil, err
	}

	if serverMtime == cachedMtime {
		log.Debug("read %s: mtime unchanged (%d), revalidating cache", path, serverMtime)
		if err := c.cache.Validate(path, now); err != nil {
			return nil, err
		}
		content, err := c.cache.Read(path)
		if err != nil {
			return nil, err
		}
		return sliceBytes(content, offset, nbytes)
	}

	log.Debug("read %s: mtime changed %d -> %d, refetching", path, cachedMtime, serverMtime)
	content, mtime, err := c.fetchWholeFile(path, drop)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(path, content, now, mtime); err != nil {
		return nil, err
	}
	return sliceBytes(content, offset, nbytes)
}

func (c *Client) fetchWholeFile(path string, drop *transport.DropSwitch) (content []byte, mtime uint32, err error) {
	reply, err := c.sendRequest(wire.ReadFileRequest{RequestID: uuid.New(), FileName: path}, drop)
	if err != nil {
		return nil, 0, err
	}
	resp, ok := reply.(wire.ReadFileResponse)
	if !ok {
		return nil, 0, fmt.Errorf("client: unexpected reply type %T to ReadFileRequest", reply)
	}
	if resp.Mtime == 0 && len(resp.Content) == 0 {
		return nil, 0, ErrNotFound
	}
	return resp.Content, resp.Mtime, nil
}

func sliceBytes(content []byte, offset, nbytes uint32) ([]byte, error) {
	start := int(offset)
	if start > len(content) {
		start = len(content)
	}
	end := start + int(nbytes)
	if end > len(content) {
		end = len(content)
	}
	return content[start:end], nil
}

// Write sends a WriteFileRequest and, on a successful reply, patches any
// cached entry in place without refreshing its timestamps (spec §4.4,
// §4.3). A no-reply outcome is returned verbatim for the caller to treat
// as unknown.
func (c *Client) Write(path string, offset uint32, content []byte, drop *transport.DropSwitch) (bool, error) {
	reply, err := c.sendRequest(wire.WriteFileRequest{
		RequestID: uuid.New(),
		Offset:    offset,
		FileName:  path,
		Content:   content,
	}, drop)
	if err != nil {
		return false, err
	}
	resp, ok := reply.(wire.WriteFileResponse)
	if !ok {
		return false, fmt.Errorf("client: unexpected reply type %T to WriteFileRequest", reply)
	}
	if resp.Success && c.cache.IsCached(path) {
		if err := c.cache.UpdateAfterWrite(path, offset, content); err != nil {
			return resp.Success, err
		}
	}
	return resp.Success, nil
}

// Append is symmetric to Write, via UpdateAfterAppend.
func (c *Client) Append(path string, content []byte, drop *transport.DropSwitch) (bool, error) {
	reply, err := c.sendRequest(wire.AppendFileRequest{
		RequestID: uuid.New(),
		FileName:  path,
		Content:   content,
	}, drop)
	if err != nil {
		return false, err
	}
	resp, ok := reply.(wire.AppendFileResponse)
	if !ok {
		return false, fmt.Errorf("client: unexpected reply type %T to AppendFileRequest", reply)
	}
	if resp.Success && c.cache.IsCached(path) {
		if err := c.cache.UpdateAfterAppend(path, content); err != nil {
			return resp.Success, err
		}
	}
	return resp.Success, nil
}

// Delete sends a DeleteFileRequest and, unlike the source behavior noted
// in spec §9, evicts the local cache entry on success — the gap the
// spec explicitly invites implementations to close.
func (c *Client) Delete(path string, drop *transport.DropSwitch) (bool, error) {
	reply, err := c.sendRequest(wire.DeleteFileRequest{RequestID: uuid.New(), FileName: path}, drop)
	if err != nil {
		return false, err
	}
	resp, ok := reply.(wire.DeleteFileResponse)
	if !ok {
		return false, fmt.Errorf("client: unexpected reply type %T to DeleteFileRequest", reply)
	}
	if resp.Success {
		if err := c.cache.Remove(path); err != nil {
			return resp.Success, err
		}
	}
	return resp.Success, nil
}

// ServerModTime queries the server's current mtime for path without
// touching the cache. This is the supplemented ModifiedTimestampRequest
// surface (spec §6, tag 8/9) exposed as a first-class client operation.
func (c *Client) ServerModTime(path string, drop *transport.DropSwitch) (mtime uint32, ok bool, err error) {
	reply, err := c.sendRequest(wire.ModifiedTimestampRequest{RequestID: uuid.New(), Path: path}, drop)
	if err != nil {
		return 0, false, err
	}
	resp, isResp := reply.(wire.ModifiedTimestampResponse)
	if !isResp {
		return 0, false, fmt.Errorf("client: unexpected reply type %T to ModifiedTimestampRequest", reply)
	}
	return resp.Mtime, resp.Success, nil
}

// Subscribe registers interest in path for monitoringInterval, then
// blocks listening for UpdateNotifications until the interval elapses
// (spec §4.4 step 4). Each notification received replaces the cache
// entry with its content and mtime.
func (c *Client) Subscribe(path string, monitoringInterval time.Duration, drop *transport.DropSwitch) error {
	reply, err := c.sendRequest(wire.SubscribeToUpdatesRequest{
		RequestID:          uuid.New(),
		ClientIP:           c.cfg.ClientIP,
		ClientPort:         c.cfg.ClientPort,
		MonitoringInterval: uint32(monitoringInterval / time.Second),
		FileName:           path,
	}, drop)
	if err != nil {
		return err
	}
	resp, ok := reply.(wire.SubscribeToUpdatesResponse)
	if !ok {
		return fmt.Errorf("client: unexpected reply type %T to SubscribeToUpdatesRequest", reply)
	}
	if !resp.Success {
		return fmt.Errorf("client: subscribe to %s rejected by server", path)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(c.cfg.ClientPort)})
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(monitoringInterval)
	buf := make([]byte, transport.MaxDatagram)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return err
		}

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			log.Warn("subscribe %s: dropping undecodable notification: %v", path, err)
			continue
		}
		notif, ok := msg.(wire.UpdateNotification)
		if !ok {
			log.Warn("subscribe %s: unexpected message type %T on notification socket", path, msg)
			continue
		}
		if err := c.cache.Replace(notif.FileName, notif.Content, notif.Mtime, time.Now()); err != nil {
			return err
		}
		log.Debug("subscribe %s: applied update, mtime now %d", notif.FileName, notif.Mtime)
	}
}
