package wire

import "fmt"

// EndpointEcho is server-originated, reporting the external address it
// observed for the peer it is sent to.
type EndpointEcho struct {
	Addr string
}

func (m *EndpointEcho) Tag() Tag { return TagEndpointEcho }

func (m *EndpointEcho) marshalBody(buf []byte) []byte { return putString(buf, m.Addr) }

func (m *EndpointEcho) unmarshalBody(body []byte) error {
	addr, _, err := getString(body)
	if err != nil {
		return err
	}
	m.Addr = addr
	return nil
}

func (m *EndpointEcho) String() string { return fmt.Sprintf("EndpointEcho(%s)", m.Addr) }

// EndpointEchoReq requests the recipient report back the address it
// observed this connection arriving from.
type EndpointEchoReq struct{}

func (m *EndpointEchoReq) Tag() Tag { return TagEndpointEchoReq }

func (m *EndpointEchoReq) marshalBody(buf []byte) []byte { return buf }

func (m *EndpointEchoReq) unmarshalBody(body []byte) error { return nil }

func (m *EndpointEchoReq) String() string { return "EndpointEchoReq" }

// EndpointEchoResp answers an EndpointEchoReq with the observed address.
type EndpointEchoResp struct {
	Addr string
}

func (m *EndpointEchoResp) Tag() Tag { return TagEndpointEchoResp }

func (m *EndpointEchoResp) marshalBody(buf []byte) []byte { return putString(buf, m.Addr) }

func (m *EndpointEchoResp) unmarshalBody(body []byte) error {
	addr, _, err := getString(body)
	if err != nil {
		return err
	}
	m.Addr = addr
	return nil
}

func (m *EndpointEchoResp) String() string { return fmt.Sprintf("EndpointEchoResp(%s)", m.Addr) }
