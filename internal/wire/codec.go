package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ProtocolError marks a datagram that failed to parse: an unknown class
// tag or a body that ran out of bytes mid-field. Callers drop the
// datagram and continue (spec §4.1, §7).
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.msg }

func protoErrorf(format string, arg ...interface{}) error {
	return &ProtocolError{msg: fmt.Sprintf(format, arg...)}
}

// Encode marshals a Message into its wire representation: a 4-byte class
// tag followed by the tag's body.
func Encode(m Message) ([]byte, error) {
	var body []byte

	switch v := m.(type) {
	case ReadFileRequest:
		body = appendID(nil, v.RequestID)
		body = appendString(body, v.FileName)
	case WriteFileRequest:
		body = appendID(nil, v.RequestID)
		body = appendU32(body, v.Offset)
		body = appendU32(body, uint32(len(v.FileName)))
		body = appendU32(body, uint32(len(v.Content)))
		body = append(body, v.FileName...)
		body = append(body, v.Content...)
	case SubscribeToUpdatesRequest:
		body = appendID(nil, v.RequestID)
		body = append(body, v.ClientIP[:]...)
		body = appendU32(body, v.ClientPort)
		body = appendU32(body, v.MonitoringInterval)
		body = appendString(body, v.FileName)
	case ReadFileResponse:
		body = appendID(nil, v.ReplyID)
		body = appendU32(body, v.Mtime)
		body = append(body, v.Content...)
	case WriteFileResponse:
		body = appendID(nil, v.ReplyID)
		body = appendBool(body, v.Success)
		body = appendU32(body, v.Mtime)
	case SubscribeToUpdatesResponse:
		body = appendID(nil, v.ReplyID)
		body = appendBool(body, v.Success)
	case UpdateNotification:
		body = appendString(nil, v.FileName)
		body = appendU32(body, v.Mtime)
		body = appendU32(body, uint32(len(v.Content)))
		body = append(body, v.Content...)
	case ModifiedTimestampRequest:
		body = appendID(nil, v.RequestID)
		body = append(body, v.Path...)
	case ModifiedTimestampResponse:
		body = appendID(nil, v.ReplyID)
		body = appendBool(body, v.Success)
		body = appendU32(body, v.Mtime)
	case DeleteFileRequest:
		body = appendID(nil, v.RequestID)
		body = appendString(body, v.FileName)
	case DeleteFileResponse:
		body = appendID(nil, v.ReplyID)
		body = appendBool(body, v.Success)
	case AppendFileRequest:
		body = appendID(nil, v.RequestID)
		body = appendU32(body, uint32(len(v.FileName)))
		body = appendU32(body, uint32(len(v.Content)))
		body = append(body, v.FileName...)
		body = append(body, v.Content...)
	case AppendFileResponse:
		body = appendID(nil, v.ReplyID)
		body = appendBool(body, v.Success)
		body = appendU32(body, v.Mtime)
	default:
		return nil, fmt.Errorf("wire: unencodable message type %T", m)
	}

	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(m.Tag()))
	return append(out, body...), nil
}

// Decode parses a single datagram payload into a Message, dispatching
// strictly on the leading 4-byte class tag. An unknown tag or a body that
// runs out of bytes returns a *ProtocolError.
func Decode(data []byte) (Message, error) {
	if len(data) < 4 {
		return nil, protoErrorf("datagram too short for a class tag: %d bytes", len(data))
	}
	tag := Tag(binary.BigEndian.Uint32(data[:4]))
	r := &reader{b: data[4:]}

	var m Message
	switch tag {
	case TagReadFileRequest:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		name, err := r.lenPrefixedString()
		if err != nil {
			return nil, err
		}
		m = ReadFileRequest{RequestID: id, FileName: name}
	case TagWriteFileRequest:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		offset, err := r.u32()
		if err != nil {
			return nil, err
		}
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		contentLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		content, err := r.bytes(int(contentLen))
		if err != nil {
			return nil, err
		}
		m = WriteFileRequest{RequestID: id, Offset: offset, FileName: string(name), Content: content}
	case TagSubscribeToUpdatesRequest:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		ip, err := r.ipv4()
		if err != nil {
			return nil, err
		}
		port, err := r.u32()
		if err != nil {
			return nil, err
		}
		interval, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.lenPrefixedString()
		if err != nil {
			return nil, err
		}
		m = SubscribeToUpdatesRequest{
			RequestID:          id,
			ClientIP:           ip,
			ClientPort:         port,
			MonitoringInterval: interval,
			FileName:           name,
		}
	case TagReadFileResponse:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		mtime, err := r.u32()
		if err != nil {
			return nil, err
		}
		content := r.rest()
		m = ReadFileResponse{ReplyID: id, Mtime: mtime, Content: content}
	case TagWriteFileResponse:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		ok, err := r.boolean()
		if err != nil {
			return nil, err
		}
		mtime, err := r.u32()
		if err != nil {
			return nil, err
		}
		m = WriteFileResponse{ReplyID: id, Success: ok, Mtime: mtime}
	case TagSubscribeToUpdatesResponse:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		ok, err := r.boolean()
		if err != nil {
			return nil, err
		}
		m = SubscribeToUpdatesResponse{ReplyID: id, Success: ok}
	case TagUpdateNotification:
		name, err := r.lenPrefixedString()
		if err != nil {
			return nil, err
		}
		mtime, err := r.u32()
		if err != nil {
			return nil, err
		}
		contentLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		content, err := r.bytes(int(contentLen))
		if err != nil {
			return nil, err
		}
		m = UpdateNotification{FileName: name, Mtime: mtime, Content: content}
	case TagModifiedTimestampRequest:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		m = ModifiedTimestampRequest{RequestID: id, Path: string(r.rest())}
	case TagModifiedTimestampResponse:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		ok, err := r.boolean()
		if err != nil {
			return nil, err
		}
		mtime, err := r.u32()
		if err != nil {
			return nil, err
		}
		m = ModifiedTimestampResponse{ReplyID: id, Success: ok, Mtime: mtime}
	case TagDeleteFileRequest:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		name, err := r.lenPrefixedString()
		if err != nil {
			return nil, err
		}
		m = DeleteFileRequest{RequestID: id, FileName: name}
	case TagDeleteFileResponse:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		ok, err := r.boolean()
		if err != nil {
			return nil, err
		}
		m = DeleteFileResponse{ReplyID: id, Success: ok}
	case TagAppendFileRequest:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		contentLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		content, err := r.bytes(int(contentLen))
		if err != nil {
			return nil, err
		}
		m = AppendFileRequest{RequestID: id, FileName: string(name), Content: content}
	case TagAppendFileResponse:
		id, err := r.id()
		if err != nil {
			return nil, err
		}
		ok, err := r.boolean()
		if err != nil {
			return nil, err
		}
		mtime, err := r.u32()
		if err != nil {
			return nil, err
		}
		m = AppendFileResponse{ReplyID: id, Success: ok, Mtime: mtime}
	default:
		return nil, protoErrorf("unknown class tag %d", tag)
	}

	return m, nil
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendID(b []byte, id uuid.UUID) []byte {
	return append(b, id[:]...)
}

func appendString(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

// reader walks a byte slice left to right, returning a *ProtocolError the
// moment a field would read past the end.
type reader struct {
	b   []byte
	off int
}

func (r *reader) need(n int) error {
	if len(r.b)-r.off < n {
		return protoErrorf("need %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off)
	}
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, protoErrorf("negative length %d", n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *reader) rest() []byte {
	out := make([]byte, len(r.b)-r.off)
	copy(out, r.b[r.off:])
	r.off = len(r.b)
	return out
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.b[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) boolean() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.b[r.off] != 0
	r.off++
	return v, nil
}

func (r *reader) id() (uuid.UUID, error) {
	b, err := r.bytes(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

func (r *reader) ipv4() ([4]byte, error) {
	var ip [4]byte
	b, err := r.bytes(4)
	if err != nil {
		return ip, err
	}
	copy(ip[:], b)
	return ip, nil
}

func (r *reader) lenPrefixedString() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
