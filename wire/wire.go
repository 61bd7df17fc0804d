// Package wire implements the length-prefixed, tagged WireMsg framing
// exchanged over an established QUIC stream. Where a zmq ROUTER/DEALER
// socket multiplexes frames at the transport layer, this package reads
// and writes a single length-prefixed frame at a time on an
// io.Reader/io.Writer (a quic.Stream in practice).
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Signature tags every frame so a misaligned read is caught early instead
// of being silently misinterpreted, the same role zeromq-gyre/msg.Signature
// plays.
const signature uint16 = 0xAAC0 | 1

// MaxFrameLen bounds a single decoded frame in ReadFrom; ReadFromLimited
// takes a smaller per-call limit.
const MaxFrameLen = 64 * 1024 * 1024

// Tag identifies a WireMsg variant on the wire.
type Tag uint8

const (
	TagHandshakeNode Tag = iota + 1
	TagHandshakeClient
	TagEndpointEcho
	TagEndpointEchoReq
	TagEndpointEchoResp
	TagUserMsg
)

func (t Tag) String() string {
	switch t {
	case TagHandshakeNode:
		return "Handshake(Node)"
	case TagHandshakeClient:
		return "Handshake(Client)"
	case TagEndpointEcho:
		return "EndpointEcho"
	case TagEndpointEchoReq:
		return "EndpointEchoReq"
	case TagEndpointEchoResp:
		return "EndpointEchoResp"
	case TagUserMsg:
		return "UserMsg"
	default:
		return "Unknown"
	}
}

// Msg is a tagged wire envelope. Every variant in this package implements
// it.
type Msg interface {
	Tag() Tag
	// marshalBody appends this message's body (everything after the tag
	// byte) to buf and returns the result.
	marshalBody(buf []byte) []byte
	// unmarshalBody decodes this message's body from a tag-stripped frame.
	unmarshalBody(body []byte) error
	String() string
}

// Marshal encodes a length-prefixed frame: a uint32 big-endian length,
// followed by [signature(2) | tag(1) | body...].
func Marshal(m Msg) ([]byte, error) {
	body := m.marshalBody(nil)

	frame := make([]byte, 0, 2+1+len(body))
	frame = binary.BigEndian.AppendUint16(frame, signature)
	frame = append(frame, byte(m.Tag()))
	frame = append(frame, body...)

	out := make([]byte, 0, 4+len(frame))
	out = binary.BigEndian.AppendUint32(out, uint32(len(frame)))
	out = append(out, frame...)
	return out, nil
}

// WriteTo writes a single length-prefixed frame for m to w.
func WriteTo(w io.Writer, m Msg) error {
	buf, err := Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrom reads exactly one length-prefixed frame from r and decodes it
// into a concrete Msg. It returns io.EOF only when r is exhausted exactly
// at a frame boundary, so a caller can loop "read until EOF" cleanly.
func ReadFrom(r *bufio.Reader) (Msg, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen < 3 || uint64(frameLen) > MaxFrameLen {
		return nil, fmt.Errorf("wire: invalid frame length %d", frameLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Unmarshal(frame)
}

// ReadFromLimited behaves like ReadFrom but rejects a frame whose length
// exceeds maxLen, the wire-level enforcement of a Config's
// MaxMsgSizeAllowed. maxLen of 0 falls back to MaxFrameLen.
func ReadFromLimited(r *bufio.Reader, maxLen uint32) (Msg, error) {
	if maxLen == 0 || uint64(maxLen) > MaxFrameLen {
		maxLen = MaxFrameLen
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen < 3 || frameLen > maxLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds limit %d", frameLen, maxLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Unmarshal(frame)
}

// Unmarshal decodes one complete frame (signature + tag + body, without
// its length prefix).
func Unmarshal(frame []byte) (Msg, error) {
	buf := bytes.NewReader(frame)

	var sig uint16
	if err := binary.Read(buf, binary.BigEndian, &sig); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	if sig != signature {
		return nil, errors.New("wire: invalid signature")
	}

	tagByte, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}

	var m Msg
	switch Tag(tagByte) {
	case TagHandshakeNode:
		m = &HandshakeNode{}
	case TagHandshakeClient:
		m = &HandshakeClient{}
	case TagEndpointEcho:
		m = &EndpointEcho{}
	case TagEndpointEchoReq:
		m = &EndpointEchoReq{}
	case TagEndpointEchoResp:
		m = &EndpointEchoResp{}
	case TagUserMsg:
		m = &UserMsg{}
	default:
		return nil, fmt.Errorf("wire: unknown tag %d", tagByte)
	}

	body := frame[len(frame)-buf.Len():]
	if err := m.unmarshalBody(body); err != nil {
		return nil, err
	}
	return m, nil
}

// putBytes appends a uint32-length-prefixed byte slice, the generalized
// form of zeromq-gyre/msg.putBytes (there it is fixed at a uint64 length;
// a uint32 length is ample for a single address/certificate field and
// keeps frames smaller).
func putBytes(buf []byte, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// getBytes is putBytes's reverse, modeled on zeromq-gyre/msg.getBytes.
func getBytes(body []byte) (data []byte, rest []byte, err error) {
	if len(body) < 4 {
		return nil, nil, errors.New("wire: truncated length")
	}
	n := binary.BigEndian.Uint32(body)
	body = body[4:]
	if uint64(len(body)) < uint64(n) {
		return nil, nil, errors.New("wire: truncated bytes field")
	}
	return body[:n], body[n:], nil
}

func putString(buf []byte, s string) []byte {
	return putBytes(buf, []byte(s))
}

func getString(body []byte) (string, []byte, error) {
	data, rest, err := getBytes(body)
	if err != nil {
		return "", nil, err
	}
	return string(data), rest, nil
}
