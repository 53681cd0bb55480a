// Package wire implements the on-the-wire message format: a 4-byte
// big-endian class tag followed by a tag-specific body. Every datagram
// carries exactly one message; there is no envelope length field because
// a UDP datagram already delimits the payload.
package wire

import "github.com/google/uuid"

// Tag is the 4-byte class tag that leads every message on the wire.
type Tag uint32

const (
	TagReadFileRequest            Tag = 1
	TagWriteFileRequest           Tag = 2
	TagSubscribeToUpdatesRequest  Tag = 3
	TagReadFileResponse           Tag = 4
	TagWriteFileResponse          Tag = 5
	TagSubscribeToUpdatesResponse Tag = 6
	TagUpdateNotification         Tag = 7
	TagModifiedTimestampRequest   Tag = 8
	TagModifiedTimestampResponse  Tag = 9
	TagDeleteFileRequest          Tag = 10
	TagDeleteFileResponse         Tag = 11
	TagAppendFileRequest          Tag = 12
	TagAppendFileResponse         Tag = 13
)

// Message is the tagged union of every request, reply and notification
// variant. Tag uniquely determines which concrete type a decoded Message
// holds and how its body was laid out on the wire.
type Message interface {
	Tag() Tag
}

type ReadFileRequest struct {
	RequestID uuid.UUID
	FileName  string
}

func (ReadFileRequest) Tag() Tag { return TagReadFileRequest }

type WriteFileRequest struct {
	RequestID uuid.UUID
	Offset    uint32
	FileName  string
	Content   []byte
}

func (WriteFileRequest) Tag() Tag { return TagWriteFileRequest }

// SubscribeToUpdatesRequest carries a RequestID even though the original
// protocol this was distilled from did not: without one, at-most-once
// duplicate suppression can't apply to subscribe calls the way it does to
// every other request (spec §4.1, §9).
type SubscribeToUpdatesRequest struct {
	RequestID          uuid.UUID
	ClientIP           [4]byte
	ClientPort         uint32
	MonitoringInterval uint32
	FileName           string
}

func (SubscribeToUpdatesRequest) Tag() Tag { return TagSubscribeToUpdatesRequest }

type ReadFileResponse struct {
	ReplyID uuid.UUID
	Mtime   uint32
	Content []byte
}

func (ReadFileResponse) Tag() Tag { return TagReadFileResponse }

type WriteFileResponse struct {
	ReplyID uuid.UUID
	Success bool
	Mtime   uint32
}

func (WriteFileResponse) Tag() Tag { return TagWriteFileResponse }

type SubscribeToUpdatesResponse struct {
	ReplyID uuid.UUID
	Success bool
}

func (SubscribeToUpdatesResponse) Tag() Tag { return TagSubscribeToUpdatesResponse }

// UpdateNotification is sent one-shot, server to client; it is never
// acknowledged and carries no request/reply id.
type UpdateNotification struct {
	FileName string
	Mtime    uint32
	Content  []byte
}

func (UpdateNotification) Tag() Tag { return TagUpdateNotification }

type ModifiedTimestampRequest struct {
	RequestID uuid.UUID
	Path      string
}

func (ModifiedTimestampRequest) Tag() Tag { return TagModifiedTimestampRequest }

type ModifiedTimestampResponse struct {
	ReplyID uuid.UUID
	Success bool
	Mtime   uint32
}

func (ModifiedTimestampResponse) Tag() Tag { return TagModifiedTimestampResponse }

type DeleteFileRequest struct {
	RequestID uuid.UUID
	FileName  string
}

func (DeleteFileRequest) Tag() Tag { return TagDeleteFileRequest }

type DeleteFileResponse struct {
	ReplyID uuid.UUID
	Success bool
}

func (DeleteFileResponse) Tag() Tag { return TagDeleteFileResponse }

type AppendFileRequest struct {
	RequestID uuid.UUID
	FileName  string
	Content   []byte
}

func (AppendFileRequest) Tag() Tag { return TagAppendFileRequest }

type AppendFileResponse struct {
	ReplyID uuid.UUID
	Success bool
	Mtime   uint32
}

func (AppendFileResponse) Tag() Tag { return TagAppendFileResponse }

// RequestID returns the correlation id carried by any request-shaped
// message, and false for replies and notifications.
func RequestID(m Message) (uuid.UUID, bool) {
	switch v := m.(type) {
	case ReadFileRequest:
		return v.RequestID, true
	case WriteFileRequest:
		return v.RequestID, true
	case SubscribeToUpdatesRequest:
		return v.RequestID, true
	case ModifiedTimestampRequest:
		return v.RequestID, true
	case DeleteFileRequest:
		return v.RequestID, true
	case AppendFileRequest:
		return v.RequestID, true
	}
	return uuid.UUID{}, false
}
