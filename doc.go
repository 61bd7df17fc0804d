// Package quicp2p is a peer-to-peer transport library built on top of QUIC.
// It lets a process address other processes by network endpoint, open
// mutually-authenticated encrypted sessions to them, send discrete
// application messages, and receive messages pushed by remote peers.
//
// Participants are either full Nodes, which accept incoming sessions, or
// lightweight Clients, which only ever dial out. A Context is the single
// process-wide owner of the local QUIC endpoint, the connection table and
// the bootstrap cache; all state transitions happen on its single event
// loop goroutine, and every outcome is reported back to the host over an
// event channel.
package quicp2p
