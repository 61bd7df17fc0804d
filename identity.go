package quicp2p

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

const certValidity = 10 * 365 * 24 * time.Hour

// NodeInfo uniquely identifies a Node: the address we dial it on plus the
// DER-encoded certificate it authenticates with.
type NodeInfo struct {
	PeerAddr        net.Addr
	PeerCertificate []byte
}

func (n NodeInfo) String() string {
	if n.PeerAddr == nil {
		return "NodeInfo{<no addr>}"
	}
	return fmt.Sprintf("NodeInfo{%s}", n.PeerAddr.String())
}

// Equal compares two NodeInfo by address string and certificate bytes.
func (n NodeInfo) Equal(other NodeInfo) bool {
	if n.PeerAddr == nil || other.PeerAddr == nil {
		return false
	}
	return n.PeerAddr.String() == other.PeerAddr.String() &&
		bytes.Equal(n.PeerCertificate, other.PeerCertificate)
}

// Peer is a tagged variant identifying whoever we are talking to on an
// established session: either a full Node (address + certificate) or a
// bare Client (address only, since Clients never get dialed back).
type Peer struct {
	isNode   bool
	nodeInfo NodeInfo
	addr     net.Addr
}

// NodePeer wraps a NodeInfo as a Peer.
func NodePeer(info NodeInfo) Peer { return Peer{isNode: true, nodeInfo: info} }

// ClientPeer wraps a bare address as a Peer.
func ClientPeer(addr net.Addr) Peer { return Peer{isNode: false, addr: addr} }

// IsNode reports whether this Peer is a Node (vs. a Client).
func (p Peer) IsNode() bool { return p.isNode }

// Addr returns the network address to reply on regardless of variant.
func (p Peer) Addr() net.Addr {
	if p.isNode {
		return p.nodeInfo.PeerAddr
	}
	return p.addr
}

// NodeInfo returns the underlying NodeInfo and true if this Peer is a Node.
func (p Peer) NodeInfo() (NodeInfo, bool) {
	return p.nodeInfo, p.isNode
}

func (p Peer) String() string {
	if p.isNode {
		return fmt.Sprintf("Node(%s)", p.nodeInfo)
	}
	return fmt.Sprintf("Client(%s)", p.addr)
}

// identity is our own self-signed certificate and key, generated once per
// Context the way generateTLSConfig builds a throwaway self-signed
// certificate for a QUIC demo, except the private key and certificate are
// kept around so the same identity is reused across every dial and accept.
type identity struct {
	certDER []byte
	tlsCert tls.Certificate
}

func newIdentity() (*identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, newError(ErrCertificateParse, nil, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, newError(ErrCertificateParse, nil, err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"quic-p2p self-signed"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, newError(ErrCertificateParse, nil, err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}

	return &identity{certDER: certDER, tlsCert: tlsCert}, nil
}

const alpnProto = "quic-p2p/1"

// serverTLSConfig accepts any client certificate; the application-level
// handshake (WireMsg Handshake) is what actually identifies the remote,
// deferred to the first inbound message rather than to TLS verification.
func (id *identity) serverTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.tlsCert},
		ClientAuth:   tls.RequireAnyClientCert,
		NextProtos:   []string{alpnProto},
		MinVersion:   tls.VersionTLS13,
	}
}

// clientTLSConfig authenticates the connection to the exact certificate
// bytes carried by the candidate NodeInfo, pinning VerifyPeerCertificate
// to that specific check instead of relying on a CA chain.
func (id *identity) clientTLSConfig(expectedCert []byte) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{id.tlsCert},
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProto},
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			for _, raw := range rawCerts {
				if bytes.Equal(raw, expectedCert) {
					return nil
				}
			}
			return fmt.Errorf("quicp2p: peer certificate did not match expected candidate certificate")
		},
	}
}
