package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message type tags. Stable across protocol versions; new tags may be
// added but existing values never change meaning.
const (
	TypeHello              uint8 = 0x01
	TypeAuthenticate       uint8 = 0x02
	TypeAuthenticateResult uint8 = 0x03
	TypePing               uint8 = 0x04
	TypePong               uint8 = 0x05
	TypeCreateRoom         uint8 = 0x06
	TypeJoinRoom           uint8 = 0x07
	TypeLeaveRoom          uint8 = 0x08
	TypeRoomStateUpdate    uint8 = 0x09
	TypeSelectChart        uint8 = 0x0A
	TypeReady              uint8 = 0x0B
	TypeCancelReady        uint8 = 0x0C
	TypeStartPlaying       uint8 = 0x0D
	TypeSubmitScore        uint8 = 0x0E
	TypeGameEnd            uint8 = 0x0F
	TypeKicked             uint8 = 0x10
	TypeServerMessage      uint8 = 0x11
	TypeError              uint8 = 0x12
)

// DefaultMaxFrameLength bounds the declared frame length (message type
// byte plus payload). A connection that declares more than this is
// closed before its body is read.
const DefaultMaxFrameLength uint32 = 1 << 20

var (
	// ErrFrameTooLarge is returned when a declared frame length exceeds
	// the configured maximum. The caller must close the connection
	// without reading the body.
	ErrFrameTooLarge = errors.New("declared frame length exceeds maximum")
	// ErrEmptyFrame is returned when a frame declares a length too
	// short to contain a message type byte.
	ErrEmptyFrame = errors.New("frame length does not include a message type byte")
)

// RawFrame is a decoded frame: a message type tag and its undecoded
// payload bytes. The dispatcher further decodes Payload according to
// Type.
type RawFrame struct {
	Type    uint8
	Payload []byte
}

// ReadFrame reads one length-prefixed frame from r. maxLen bounds the
// declared length (message type byte + payload); a declared length
// greater than maxLen returns ErrFrameTooLarge without reading the
// body, matching the oversized-frame boundary case.
func ReadFrame(r io.Reader, maxLen uint32) (RawFrame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return RawFrame{}, err
	}
	declared := binary.BigEndian.Uint32(lenBuf[:])
	if declared > maxLen {
		return RawFrame{}, fmt.Errorf("%w: declared %d, max %d", ErrFrameTooLarge, declared, maxLen)
	}
	if declared < 1 {
		return RawFrame{}, ErrEmptyFrame
	}

	body := make([]byte, declared)
	if _, err := io.ReadFull(r, body); err != nil {
		return RawFrame{}, err
	}

	return RawFrame{
		Type:    body[0],
		Payload: body[1:],
	}, nil
}

// WriteFrame encodes msgType and payload as one length-prefixed frame
// and writes it to w.
func WriteFrame(w io.Writer, msgType uint8, payload []byte) error {
	declared := uint32(1 + len(payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], declared)

	buf := make([]byte, 0, 4+declared)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, msgType)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// EncodeFrame marshals msg with the struct-tag codec and writes it as a
// frame of the given message type.
func EncodeFrame(w io.Writer, msgType uint8, msg any) error {
	buf := &bytes.Buffer{}
	if err := Marshal(msg, buf); err != nil {
		return err
	}
	return WriteFrame(w, msgType, buf.Bytes())
}

// DecodeInto unmarshals a RawFrame's payload into dst, a pointer to a
// tagged struct.
func DecodeInto(f RawFrame, dst any) error {
	return Unmarshal(dst, bytes.NewReader(f.Payload))
}

var proxyV2Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

// ConsumeProxyHeader peeks at the start of a freshly accepted
// connection and, if a PROXY protocol v1 or v2 header is present,
// consumes it and returns the client address it carries. If no PROXY
// header is present, r is left untouched and ok is false. Call this
// once, before any frame is read, only when the listener has proxy
// protocol enabled.
func ConsumeProxyHeader(r *bufio.Reader) (addr string, ok bool, err error) {
	sig, err := r.Peek(len(proxyV2Signature))
	if err == nil && bytes.Equal(sig, proxyV2Signature) {
		return consumeProxyV2(r)
	}

	prefix, err := r.Peek(5)
	if err != nil || string(prefix) != "PROXY" {
		return "", false, nil
	}
	return consumeProxyV1(r)
}

// consumeProxyV1 reads a PROXY v1 text header, a single CRLF-terminated
// line of at most 107 bytes per the proxy protocol spec.
func consumeProxyV1(r *bufio.Reader) (string, bool, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", false, fmt.Errorf("reading PROXY v1 header: %w", err)
	}
	if len(line) > 107 {
		return "", false, fmt.Errorf("PROXY v1 header exceeds 107 bytes")
	}
	fields := bytesFields(line)
	// PROXY <proto> <src addr> <dst addr> <src port> <dst port>
	if len(fields) >= 3 {
		return fields[2], true, nil
	}
	return "", true, nil
}

// consumeProxyV2 reads a PROXY v2 binary header: a fixed 16-byte header
// followed by a variable-length address block. The source address is
// not parsed byte-for-byte (v2 supports several address families); the
// header only needs to be consumed once at connection start, so it is
// read in full and discarded.
func consumeProxyV2(r *bufio.Reader) (string, bool, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", false, fmt.Errorf("reading PROXY v2 header: %w", err)
	}
	addrLen := binary.BigEndian.Uint16(header[14:16])
	if addrLen > 0 {
		rest := make([]byte, addrLen)
		if _, err := io.ReadFull(r, rest); err != nil {
			return "", false, fmt.Errorf("reading PROXY v2 address block: %w", err)
		}
	}
	return "", true, nil
}

func bytesFields(s string) []string {
	var out []string
	start := -1
	for i, c := range s {
		if c == ' ' || c == '\r' || c == '\n' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
