package wire

import "fmt"

// HandshakeNode is sent first by an initiator that is itself a Node,
// carrying the DER bytes of its own certificate so the remote can record
// our identity.
type HandshakeNode struct {
	CertDER []byte
}

func (h *HandshakeNode) Tag() Tag { return TagHandshakeNode }

func (h *HandshakeNode) marshalBody(buf []byte) []byte {
	return putBytes(buf, h.CertDER)
}

func (h *HandshakeNode) unmarshalBody(body []byte) error {
	cert, _, err := getBytes(body)
	if err != nil {
		return err
	}
	h.CertDER = cert
	return nil
}

func (h *HandshakeNode) String() string {
	return fmt.Sprintf("Handshake(Node, %d-byte cert)", len(h.CertDER))
}

// HandshakeClient is sent first by a Client initiator; Clients carry no
// certificate because they are never dialed back.
type HandshakeClient struct{}

func (h *HandshakeClient) Tag() Tag { return TagHandshakeClient }

func (h *HandshakeClient) marshalBody(buf []byte) []byte { return buf }

func (h *HandshakeClient) unmarshalBody(body []byte) error { return nil }

func (h *HandshakeClient) String() string { return "Handshake(Client)" }
