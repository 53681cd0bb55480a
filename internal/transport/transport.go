// Package transport implements request/reply and one-way delivery of wire
// messages over UDP. It owns no correlation or retransmission state beyond
// a single call: ordering, deduplication and reply caching all live above
// it (spec §4.2, §5).
package transport

import (
	"errors"
	"net"
	"time"

	log "rfsd/internal/minilog"
	"rfsd/internal/wire"
)

// MaxDatagram is the largest payload this transport will read off a
// socket. The wire format has no envelope length, so a datagram larger
// than this is simply truncated by ReadFromUDP; 64 KiB covers every
// message this protocol defines (spec §6).
const MaxDatagram = 65536

// ErrNoReply is returned by SendRequest when every attempt timed out
// without a reply arriving.
var ErrNoReply = errors.New("transport: no reply after max attempts")

// DropSwitch is a single-use, explicit failure-injection hook (spec §4.2,
// §9). Arm() schedules the next SendOneway/SendRequest attempt through this
// switch to be silently dropped; the switch disarms itself the moment it
// fires. It is never a package-level global: callers construct one and
// pass it to the calls they want to affect.
type DropSwitch struct {
	armed bool
}

// Arm schedules the next send through this switch to be dropped.
func (d *DropSwitch) Arm() {
	if d != nil {
		d.armed = true
	}
}

// consume reports whether a drop is pending and clears it.
func (d *DropSwitch) consume() bool {
	if d == nil || !d.armed {
		return false
	}
	d.armed = false
	return true
}

// SendRequest encodes msg, sends it to addr, and waits up to
// perAttemptTimeout for a reply, retrying up to maxAttempts times with the
// same bytes. It returns the decoded reply on first receipt, or
// ErrNoReply once attempts are exhausted. drop may be nil.
func SendRequest(msg wire.Message, addr *net.UDPAddr, maxAttempts int, perAttemptTimeout time.Duration, drop *DropSwitch) (wire.Message, error) {
	encoded, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if log.WillLog(log.DEBUG) {
		log.Debug("socket opened at %v for request to %v", conn.LocalAddr(), addr)
	}

	buf := make([]byte, MaxDatagram)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if drop.consume() {
			log.Debug("drop switch armed: simulating loss of outgoing request, attempt %d", attempt)
			continue
		}

		if _, err := conn.WriteToUDP(encoded, addr); err != nil {
			log.Errorln("transport: write: ", err)
			continue
		}
		log.Debug("sent %d bytes to %v, attempt %d", len(encoded), addr, attempt)

		if err := conn.SetReadDeadline(time.Now().Add(perAttemptTimeout)); err != nil {
			return nil, err
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Warn("attempt %d timed out waiting for a reply", attempt)
				continue
			}
			return nil, err
		}

		reply, err := wire.Decode(buf[:n])
		if err != nil {
			return nil, err
		}
		log.Debug("reply received from %v", addr)
		return reply, nil
	}

	log.Warn("no reply from %v after %d attempts", addr, maxAttempts)
	return nil, ErrNoReply
}

// SendOneway encodes msg and fires it at addr without waiting for
// anything back. Used for server replies (spec §4.5 dispatches each
// reply via this primitive) and for update notifications.
func SendOneway(msg wire.Message, addr *net.UDPAddr, drop *DropSwitch) error {
	if drop.consume() {
		log.Debug("drop switch armed: simulating loss of outgoing message to %v", addr)
		return nil
	}

	encoded, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(encoded, addr); err != nil {
		return err
	}
	log.Debug("sent %d bytes to %v", len(encoded), addr)
	return nil
}
