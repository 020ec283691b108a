// Package protocol implements the chat relay's length-prefixed binary wire
// format: frame parsing/encoding, frame type and command constants, and the
// typed error vocabulary handlers use to signal failures to the dispatcher.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameType identifies the purpose of a frame's payload.
type FrameType int32

const (
	SvrConnect    FrameType = 1
	SvrDisconnect FrameType = 2
	SvrMessage    FrameType = 3
	ChConnect     FrameType = 4
	ChDisconnect  FrameType = 5
	ChMessage     FrameType = 6
	ChCommand     FrameType = 7
	ChDestroy     FrameType = 8
)

func (t FrameType) String() string {
	switch t {
	case SvrConnect:
		return "SVR_CONNECT"
	case SvrDisconnect:
		return "SVR_DISCONNECT"
	case SvrMessage:
		return "SVR_MESSAGE"
	case ChConnect:
		return "CH_CONNECT"
	case ChDisconnect:
		return "CH_DISCONNECT"
	case ChMessage:
		return "CH_MESSAGE"
	case ChCommand:
		return "CH_COMMAND"
	case ChDestroy:
		return "CH_DESTROY"
	default:
		return fmt.Sprintf("FrameType(%d)", int32(t))
	}
}

// Command identifies the operation carried in a CH_COMMAND payload's first
// byte.
type Command byte

const (
	CmdRename           Command = 1
	CmdPin              Command = 2
	CmdPromoteEmperor   Command = 3
	CmdPromoteModerator Command = 4
	CmdKick             Command = 5
	CmdInvite           Command = 6
	CmdPrivacy          Command = 7
)

// Reserved response ids used for server-generated frames that are not a
// direct echo of a request id.
const (
	IDProtocolError = -1
	IDInvalidField  = -2
	IDCapacity      = -3
)

// headerSize is size(4) + id(4) + type(4); trailerSize is the two trailing
// NUL bytes, both counted in the wire "size" field.
const (
	headerSize  = 12
	trailerSize = 2
	// MaxFrameSize bounds the size a client may advertise, to stop a
	// malicious length prefix from forcing an unbounded allocation.
	MaxFrameSize = 1 << 20
)

// Frame is one parsed protocol unit: a caller id, a type, and a payload with
// the framing and trailing NULs already stripped.
type Frame struct {
	ID      int32
	Type    FrameType
	Payload []byte
}

// ReadFrame reads exactly one frame from r. It reads the 4-byte size prefix,
// then size-4 further bytes, and strips the two trailing NUL bytes before
// returning the payload. A size outside [headerSize+trailerSize, MaxFrameSize]
// is reported as ErrProtocol; a short read, io.EOF and other read failures
// are reported as ErrFatal so the caller can schedule a disconnect.
func ReadFrame(r io.Reader) (Frame, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("%w: reading size prefix: %v", ErrFatal, err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < headerSize+trailerSize || size > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: frame size %d out of range", ErrProtocol, size)
	}

	rest := make([]byte, size-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, fmt.Errorf("%w: reading frame body: %v", ErrFatal, err)
	}

	id := int32(binary.LittleEndian.Uint32(rest[0:4]))
	typ := FrameType(int32(binary.LittleEndian.Uint32(rest[4:8])))
	body := rest[8:]
	if len(body) < trailerSize {
		return Frame{}, fmt.Errorf("%w: frame body too short for trailer", ErrProtocol)
	}
	payload := body[:len(body)-trailerSize]

	return Frame{ID: id, Type: typ, Payload: payload}, nil
}

// Encode serializes a frame for the wire: size, id, type, payload, and the
// two trailing NUL bytes.
func Encode(id int32, typ FrameType, payload []byte) []byte {
	total := headerSize + len(payload) + trailerSize
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(typ)))
	copy(buf[12:], payload)
	// trailing two bytes are already zero from make([]byte, ...)
	return buf
}

// WriteFrame encodes and writes a frame in one call.
func WriteFrame(w io.Writer, id int32, typ FrameType, payload []byte) error {
	_, err := w.Write(Encode(id, typ, payload))
	return err
}

// Decode is the inverse of Encode's payload framing; it exists for the
// round-trip property (encode(decode(x)) == x) exercised in tests and takes
// a fully-read buffer rather than a reader.
func Decode(buf []byte) (id int32, typ FrameType, payload []byte, err error) {
	if len(buf) < headerSize+trailerSize {
		return 0, 0, nil, fmt.Errorf("%w: buffer too short", ErrProtocol)
	}
	size := binary.LittleEndian.Uint32(buf[0:4])
	if int(size) != len(buf) {
		return 0, 0, nil, fmt.Errorf("%w: size field %d does not match buffer length %d", ErrProtocol, size, len(buf))
	}
	id = int32(binary.LittleEndian.Uint32(buf[4:8]))
	typ = FrameType(int32(binary.LittleEndian.Uint32(buf[8:12])))
	payload = buf[12 : len(buf)-trailerSize]
	return id, typ, payload, nil
}

// Sentinel errors. Handlers wrap these with fmt.Errorf("%w: ...", ErrX, ...)
// so the dispatcher can classify a handler's failure with errors.Is while
// still carrying a human-readable detail message for logs.
var (
	ErrProtocol = errors.New("protocol error")
	ErrCapacity = errors.New("capacity exceeded")
	ErrForbidden = errors.New("forbidden")
	ErrNotFound = errors.New("not found")
	ErrFatal    = errors.New("fatal")
)

// ResponseID maps an error produced by a handler to the wire response id
// used for that error kind, per the error-handling design: ProtocolError and
// Forbidden and NotFound all respond with -1 (preserving the request type),
// CapacityExceeded responds with -3. Fatal has no response: it triggers the
// disconnect path.
func ResponseID(err error) (id int32, ok bool) {
	switch {
	case errors.Is(err, ErrCapacity):
		return IDCapacity, true
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return IDProtocolError, true
	default:
		return 0, false
	}
}

// IsFatal reports whether err should trigger the disconnect path.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
