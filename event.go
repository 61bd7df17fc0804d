package quicp2p

import "net"

// EventType enumerates the outbound notifications delivered to the host
// over a Context's event channel.
type EventType int

const (
	// EventConnectedTo fires once per record lifetime outside any
	// bootstrap group: on the dialer when its connect_to reaches
	// Established, on the acceptor when the remote's Handshake arrives.
	EventConnectedTo EventType = iota + 1
	// EventBootstrappedTo fires instead of EventConnectedTo when the
	// record was created under a bootstrap group and won the race.
	EventBootstrappedTo
	// EventNewMessage carries a UserMsg delivered from an established peer.
	EventNewMessage
	// EventConnectionFailure fires once for every connect_to (or mid-session
	// failure) that did not end in success, except DuplicateConnectionToPeer.
	EventConnectionFailure
	// EventSentUserMessage confirms a send() was queued on the session's
	// writer.
	EventSentUserMessage
	// EventUnsentUserMessage reports a send() that could not be delivered.
	EventUnsentUserMessage
	// EventFinish is the last event ever delivered on a Context's channel,
	// signalling the event loop has stopped.
	EventFinish
)

func (t EventType) String() string {
	switch t {
	case EventConnectedTo:
		return "ConnectedTo"
	case EventBootstrappedTo:
		return "BootstrappedTo"
	case EventNewMessage:
		return "NewMessage"
	case EventConnectionFailure:
		return "ConnectionFailure"
	case EventSentUserMessage:
		return "SentUserMessage"
	case EventUnsentUserMessage:
		return "UnsentUserMessage"
	case EventFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}

// Event is the single concrete type delivered on a Context's event
// channel; which fields are meaningful depends on Type, rather than one Go
// type per event (the event set here is host-facing API, not wire format,
// so a closed set of typed accessors is preferable to an interface
// hierarchy).
type Event struct {
	Type EventType

	// Peer identifies the remote for ConnectedTo/NewMessage.
	Peer Peer
	// Node carries the winning candidate for BootstrappedTo.
	Node NodeInfo
	// PeerAddr identifies the remote for ConnectionFailure/SentUserMessage/
	// UnsentUserMessage (the record may already be gone, or not exist, when
	// the event is built, so a bare address is kept instead of a Peer).
	PeerAddr net.Addr
	// Payload carries a UserMsg's bytes for NewMessage/SentUserMessage/
	// UnsentUserMessage.
	Payload []byte
	// Err carries the failure for ConnectionFailure.
	Err error
}
