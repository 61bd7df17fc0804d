package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, m Msg) Msg {
	t.Helper()

	var buf bytes.Buffer
	if err := WriteTo(&buf, m); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := ReadFrom(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got.Tag() != m.Tag() {
		t.Fatalf("expected tag %v, got %v", m.Tag(), got.Tag())
	}
	return got
}

func TestHandshakeNodeRoundTrip(t *testing.T) {
	orig := &HandshakeNode{CertDER: []byte("fake-der-bytes")}
	got := roundTrip(t, orig).(*HandshakeNode)
	if !bytes.Equal(got.CertDER, orig.CertDER) {
		t.Fatalf("expected %q, got %q", orig.CertDER, got.CertDER)
	}
}

func TestHandshakeClientRoundTrip(t *testing.T) {
	roundTrip(t, &HandshakeClient{})
}

func TestEndpointEchoRoundTrip(t *testing.T) {
	orig := &EndpointEcho{Addr: "203.0.113.7:4242"}
	got := roundTrip(t, orig).(*EndpointEcho)
	if got.Addr != orig.Addr {
		t.Fatalf("expected %q, got %q", orig.Addr, got.Addr)
	}
}

func TestEndpointEchoReqRespRoundTrip(t *testing.T) {
	roundTrip(t, &EndpointEchoReq{})

	orig := &EndpointEchoResp{Addr: "198.51.100.9:9000"}
	got := roundTrip(t, orig).(*EndpointEchoResp)
	if got.Addr != orig.Addr {
		t.Fatalf("expected %q, got %q", orig.Addr, got.Addr)
	}
}

func TestUserMsgRoundTrip(t *testing.T) {
	orig := &UserMsg{Content: []byte("Captcha Diem")}
	got := roundTrip(t, orig).(*UserMsg)
	if !bytes.Equal(got.Content, orig.Content) {
		t.Fatalf("expected %q, got %q", orig.Content, got.Content)
	}
}

// TestStreamOfMessages checks that several frames written back to back can
// be read off the same stream in order, the way a long-lived quic.Stream
// carries many WireMsg frames.
func TestStreamOfMessages(t *testing.T) {
	var buf bytes.Buffer
	want := []Msg{
		&HandshakeClient{},
		&UserMsg{Content: []byte("one")},
		&UserMsg{Content: []byte("two")},
		&EndpointEchoReq{},
	}
	for _, m := range want {
		if err := WriteTo(&buf, m); err != nil {
			t.Fatalf("WriteTo: %v", err)
		}
	}

	r := bufio.NewReader(&buf)
	for i, w := range want {
		got, err := ReadFrom(r)
		if err != nil {
			t.Fatalf("message %d: ReadFrom: %v", i, err)
		}
		if got.Tag() != w.Tag() {
			t.Fatalf("message %d: expected tag %v, got %v", i, w.Tag(), got.Tag())
		}
	}
}

func TestUnmarshalRejectsBadSignature(t *testing.T) {
	frame := []byte{0x00, 0x00, byte(TagUserMsg)}
	if _, err := Unmarshal(frame); err == nil {
		t.Fatal("expected an error for an invalid signature")
	}
}

func TestUnmarshalRejectsUnknownTag(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(signature>>8), byte(signature&0xFF))
	buf = append(buf, 0xFF)
	if _, err := Unmarshal(buf); err == nil {
		t.Fatal("expected an error for an unknown tag")
	}
}

func TestReadFromLimitedRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTo(&buf, &UserMsg{Content: []byte("this is a longer payload than the limit")}); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	if _, err := ReadFromLimited(bufio.NewReader(&buf), 8); err == nil {
		t.Fatal("expected an error for a frame exceeding the limit")
	}
}

func TestReadFromLimitedAllowsFrameWithinLimit(t *testing.T) {
	var buf bytes.Buffer
	orig := &UserMsg{Content: []byte("ok")}
	if err := WriteTo(&buf, orig); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := ReadFromLimited(bufio.NewReader(&buf), 1024)
	if err != nil {
		t.Fatalf("ReadFromLimited: %v", err)
	}
	if !bytes.Equal(got.(*UserMsg).Content, orig.Content) {
		t.Fatalf("expected %q, got %q", orig.Content, got.(*UserMsg).Content)
	}
}
