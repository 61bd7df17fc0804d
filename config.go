package quicp2p

import (
	"fmt"
	"time"
)

// OurType fixes the role of this process for the lifetime of a Context.
type OurType int

const (
	// TypeNode is a participant that both accepts and initiates sessions.
	TypeNode OurType = iota + 1
	// TypeClient is a participant that only ever initiates sessions.
	TypeClient
)

func (t OurType) String() string {
	if t == TypeNode {
		return "Node"
	}
	return "Client"
}

const (
	defaultMaxMsgSizeAllowed     = 16 * 1024 * 1024
	defaultIdleTimeoutMsec       = 30_000
	defaultKeepAliveIntervalMsec = 5_000
	defaultBootstrapCacheCap     = 64
)

// Config holds the options recognized by New. Zero-value fields are
// defaulted by checkAndSetDefaults the way mirairo-DREP-Chain's p2p
// Config.checkAndSetDefaults fills in MaxPendingPeers/DialRatio.
type Config struct {
	// Port is the local UDP port to bind. Zero lets the OS choose one.
	Port uint16
	// IP is the local bind address. Empty means "learn it externally",
	// via an EndpointEchoResp from the first peer asked.
	IP string

	// HardCodedContacts are added to the bootstrap cache after any disk
	// cache is loaded, so a first-ever start still has somewhere to dial.
	HardCodedContacts []NodeInfo

	// MaxMsgSizeAllowed bounds the length of a single incoming wire frame
	// (signature, tag and body; a UserMsg body is its payload plus a
	// 4-byte length), in bytes.
	MaxMsgSizeAllowed uint32
	// IdleTimeoutMsec is the QUIC idle timeout.
	IdleTimeoutMsec uint32
	// KeepAliveIntervalMsec is the QUIC keep-alive ping interval.
	KeepAliveIntervalMsec uint32

	// OurType fixes whether this process accepts inbound sessions.
	OurType OurType

	// BootstrapCachePath, if set, persists the bootstrap cache to a
	// leveldb database at this path across restarts. Empty disables
	// persistence; the cache then lives only in memory.
	BootstrapCachePath string
	// BootstrapCacheCapacity bounds the number of NodeInfo entries kept.
	// Zero defaults to 64.
	BootstrapCacheCapacity int
}

func (c *Config) checkAndSetDefaults() error {
	if c.OurType != TypeNode && c.OurType != TypeClient {
		return fmt.Errorf("quicp2p: Config.OurType must be TypeNode or TypeClient")
	}
	if c.MaxMsgSizeAllowed == 0 {
		c.MaxMsgSizeAllowed = defaultMaxMsgSizeAllowed
	}
	if c.IdleTimeoutMsec == 0 {
		c.IdleTimeoutMsec = defaultIdleTimeoutMsec
	}
	if c.KeepAliveIntervalMsec == 0 {
		c.KeepAliveIntervalMsec = defaultKeepAliveIntervalMsec
	}
	if c.BootstrapCacheCapacity == 0 {
		c.BootstrapCacheCapacity = defaultBootstrapCacheCap
	}
	return nil
}

func (c *Config) idleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMsec) * time.Millisecond
}

func (c *Config) keepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalMsec) * time.Millisecond
}
