// Package rfsserver is the Server Core: the message dispatcher, the
// at-most-once reply history, and the update-notification fan-out on
// mutation (spec §4.5).
package rfsserver

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"rfsd/internal/fsadapter"
	log "rfsd/internal/minilog"
	"rfsd/internal/transport"
	"rfsd/internal/wire"
)

// InvocationSemantics selects how repeated request_ids are handled
// (spec §4.5, §8).
type InvocationSemantics int

const (
	AtLeastOnce InvocationSemantics = iota
	AtMostOnce
)

func (s InvocationSemantics) String() string {
	if s == AtMostOnce {
		return "at-most-once"
	}
	return "at-least-once"
}

// state is the server lifecycle of spec §4.5: Stopped -> Listening ->
// Stopping -> Stopped.
type state int

const (
	stateStopped state = iota
	stateListening
	stateStopping
)

// Config configures a Server: server_addr, file_adapter, and
// invocation_semantics per spec §4.5, plus a recv timeout used purely to
// observe the shutdown flag between cycles, and an optional drop switch
// for failure-injection tests.
type Config struct {
	ListenAddr  *net.UDPAddr
	Adapter     *fsadapter.Adapter
	Semantics   InvocationSemantics
	RecvTimeout time.Duration
	Drop        *transport.DropSwitch
}

// Server owns ReplyHistory and the adapter's SubscriptionTable; both are
// process-wide per server instance but never exposed as package
// globals (spec §9).
type Server struct {
	cfg Config

	mu      sync.Mutex
	state   state
	history map[uuid.UUID]wire.Message // only populated under AtMostOnce

	conn *net.UDPConn
}

// New returns a Server that has not yet bound a socket.
func New(cfg Config) *Server {
	if cfg.RecvTimeout == 0 {
		cfg.RecvTimeout = 5 * time.Second
	}
	return &Server{
		cfg:     cfg,
		history: make(map[uuid.UUID]wire.Message),
	}
}

// ListenAndServe binds cfg.ListenAddr and runs the receive loop until
// Stop is called. It returns nil on a clean shutdown.
func (s *Server) ListenAndServe() error {
	conn, err := net.ListenUDP("udp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.state = stateListening
	s.mu.Unlock()

	log.Infoln("rfsserver: listening on ", conn.LocalAddr(), " semantics=", s.cfg.Semantics)

	buf := make([]byte, transport.MaxDatagram)
	for {
		s.mu.Lock()
		stopping := s.state == stateStopping
		s.mu.Unlock()
		if stopping {
			break
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.RecvTimeout))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// a closed socket on shutdown surfaces here too; treat any
			// other read error as non-fatal and keep looping per spec
			// §4.5's "best-effort, loop continues" policy, unless we are
			// already stopping.
			s.mu.Lock()
			stopping := s.state == stateStopping
			s.mu.Unlock()
			if stopping {
				break
			}
			log.Errorln("rfsserver: recv: ", err)
			continue
		}
		log.Debug("rfsserver: received %d bytes from %v", n, addr)

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			log.Warn("rfsserver: dropping undecodable datagram from %v: %v", addr, err)
			continue
		}

		s.dispatch(msg, addr)
	}

	conn.Close()
	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
	log.Infoln("rfsserver: stopped")
	return nil
}

// Stop requests a cooperative shutdown; the loop observes it within one
// recv timeout (spec §4.5, §5).
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateListening {
		s.state = stateStopping
	}
}

func (s *Server) reply(msg wire.Message, addr *net.UDPAddr) {
	if err := transport.SendOneway(msg, addr, s.cfg.Drop); err != nil {
		log.Errorln("rfsserver: reply send: ", err)
	}
}

// dispatch applies the at-most-once replay check, then routes to the
// per-variant handler, then records the reply under at-most-once.
func (s *Server) dispatch(msg wire.Message, addr *net.UDPAddr) {
	reqID, hasReqID := wire.RequestID(msg)

	if hasReqID && s.cfg.Semantics == AtMostOnce {
		s.mu.Lock()
		prior, ok := s.history[reqID]
		s.mu.Unlock()
		if ok {
			log.Debug("rfsserver: replaying cached reply for request_id %v", reqID)
			s.reply(prior, addr)
			return
		}
	}

	reply := s.handle(msg, addr)
	if reply == nil {
		return
	}

	s.reply(reply, addr)

	if hasReqID && s.cfg.Semantics == AtMostOnce {
		s.mu.Lock()
		s.history[reqID] = reply
		s.mu.Unlock()
	}
}

// handle executes exactly one variant's side effect and returns the
// reply to send, or nil for variants with no reply (none currently
// exist, but UpdateNotification is never dispatched as an inbound
// request so this keeps the switch exhaustive in spirit).
func (s *Server) handle(msg wire.Message, addr *net.UDPAddr) wire.Message {
	switch m := msg.(type) {
	case wire.ReadFileRequest:
		content, ok, err := s.cfg.Adapter.Read(m.FileName)
		if err != nil {
			log.Errorln("rfsserver: read: ", err)
		}
		if !ok {
			return wire.ReadFileResponse{ReplyID: uuid.New(), Mtime: 0, Content: nil}
		}
		mtimeOK, mtime, err := s.cfg.Adapter.Mtime(m.FileName)
		if err != nil {
			log.Errorln("rfsserver: mtime: ", err)
		}
		if !mtimeOK {
			return wire.ReadFileResponse{ReplyID: uuid.New(), Mtime: 0, Content: nil}
		}
		return wire.ReadFileResponse{ReplyID: uuid.New(), Mtime: mtime, Content: content}

	case wire.WriteFileRequest:
		ok, err := s.cfg.Adapter.Write(m.FileName, m.Offset, m.Content)
		if err != nil {
			log.Errorln("rfsserver: write: ", err)
		}
		if !ok {
			return wire.WriteFileResponse{ReplyID: uuid.New(), Success: false, Mtime: 0}
		}
		_, mtime, _ := s.cfg.Adapter.Mtime(m.FileName)
		s.fanOut(m.FileName, mtime)
		return wire.WriteFileResponse{ReplyID: uuid.New(), Success: true, Mtime: mtime}

	case wire.AppendFileRequest:
		ok, err := s.cfg.Adapter.Append(m.FileName, m.Content)
		if err != nil {
			log.Errorln("rfsserver: append: ", err)
		}
		if !ok {
			return wire.AppendFileResponse{ReplyID: uuid.New(), Success: false, Mtime: 0}
		}
		_, mtime, _ := s.cfg.Adapter.Mtime(m.FileName)
		s.fanOut(m.FileName, mtime)
		return wire.AppendFileResponse{ReplyID: uuid.New(), Success: true, Mtime: mtime}

	case wire.DeleteFileRequest:
		// no subscriber fan-out on delete: preserved source behavior
		// (spec §9).
		ok, err := s.cfg.Adapter.Delete(m.FileName)
		if err != nil {
			log.Errorln("rfsserver: delete: ", err)
		}
		return wire.DeleteFileResponse{ReplyID: uuid.New(), Success: ok}

	case wire.SubscribeToUpdatesRequest:
		ok := s.cfg.Adapter.Subscribe(m.ClientIP, m.ClientPort, time.Duration(m.MonitoringInterval)*time.Second, m.FileName, time.Now())
		return wire.SubscribeToUpdatesResponse{ReplyID: uuid.New(), Success: ok}

	case wire.ModifiedTimestampRequest:
		ok, mtime, err := s.cfg.Adapter.Mtime(m.Path)
		if err != nil {
			log.Errorln("rfsserver: mtime: ", err)
		}
		return wire.ModifiedTimestampResponse{ReplyID: uuid.New(), Success: ok, Mtime: mtime}

	default:
		log.Warn("rfsserver: unexpected message type %T from %v, dropping", msg, addr)
		return nil
	}
}

// fanOut sends an UpdateNotification carrying the whole current file
// content to every non-expired subscriber, in subscription order
// (spec §4.5, §5, §8).
func (s *Server) fanOut(path string, mtime uint32) {
	subs := s.cfg.Adapter.Subscribers(path, time.Now())
	if len(subs) == 0 {
		return
	}

	content, ok, err := s.cfg.Adapter.Read(path)
	if err != nil || !ok {
		log.Errorln("rfsserver: fan-out read for notification: ", err)
		return
	}

	for _, sub := range subs {
		addr := &net.UDPAddr{
			IP:   net.IPv4(sub.ClientIP[0], sub.ClientIP[1], sub.ClientIP[2], sub.ClientIP[3]),
			Port: int(sub.ClientPort),
		}
		notif := wire.UpdateNotification{FileName: path, Mtime: mtime, Content: content}
		if err := transport.SendOneway(notif, addr, s.cfg.Drop); err != nil {
			log.Errorln("rfsserver: notification send to ", addr, ": ", err)
		}
	}
}
