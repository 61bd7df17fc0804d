// Command p2pchat is a minimal interactive demonstration of the quicp2p
// library: it starts a Context, optionally dials a peer given on the
// command line, and relays anything typed on stdin as a UserMsg to every
// node currently in its bootstrap cache.
package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	quicp2p "github.com/dirvine/quic-p2p"
)

func main() {
	port := flag.Uint("port", 0, "local UDP port (0 picks an ephemeral port)")
	ip := flag.String("ip", "", "local bind address")
	client := flag.Bool("client", false, "run as a Client instead of a Node")
	peer := flag.String("peer", "", "address/base64cert of a peer to connect to on startup")
	flag.Parse()

	ourType := quicp2p.TypeNode
	if *client {
		ourType = quicp2p.TypeClient
	}

	ctx, err := quicp2p.New(quicp2p.Config{
		Port:    uint16(*port),
		IP:      *ip,
		OurType: ourType,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "p2pchat: failed to start:", err)
		os.Exit(1)
	}
	defer ctx.Close()

	info, err := ctx.OurConnectionInfo()
	if err != nil {
		fmt.Fprintln(os.Stderr, "p2pchat: listening, external address not yet known")
	} else {
		fmt.Printf("p2pchat: listening on %s, cert=%s\n", info.PeerAddr, base64.StdEncoding.EncodeToString(info.PeerCertificate))
	}

	go printEvents(ctx)

	if *peer != "" {
		target, err := parseNodeInfo(*peer)
		if err != nil {
			fmt.Fprintln(os.Stderr, "p2pchat: bad -peer value:", err)
		} else if err := ctx.ConnectTo(target); err != nil {
			fmt.Fprintln(os.Stderr, "p2pchat: connect failed:", err)
		}
	}

	readStdin(ctx)
}

func printEvents(ctx *quicp2p.Context) {
	for ev := range ctx.Events() {
		switch ev.Type {
		case quicp2p.EventConnectedTo:
			fmt.Printf("* connected to %s\n", ev.Peer)
		case quicp2p.EventBootstrappedTo:
			fmt.Printf("* bootstrapped to %s\n", ev.Node)
		case quicp2p.EventNewMessage:
			fmt.Printf("%s: %s\n", ev.Peer, ev.Payload)
		case quicp2p.EventConnectionFailure:
			fmt.Printf("* connection to %s failed: %v\n", ev.PeerAddr, ev.Err)
		case quicp2p.EventUnsentUserMessage:
			fmt.Printf("* message to %s was not delivered\n", ev.PeerAddr)
		case quicp2p.EventFinish:
			return
		}
	}
}

func readStdin(ctx *quicp2p.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/cache" {
			for _, n := range ctx.BootstrapCache() {
				fmt.Println(" -", n)
			}
			continue
		}
		if strings.HasPrefix(line, "/connect ") {
			target, err := parseNodeInfo(strings.TrimPrefix(line, "/connect "))
			if err != nil {
				fmt.Fprintln(os.Stderr, "p2pchat:", err)
				continue
			}
			if err := ctx.ConnectTo(target); err != nil {
				fmt.Fprintln(os.Stderr, "p2pchat: connect failed:", err)
			}
			continue
		}
		broadcast(ctx, []byte(line))
	}
}

func broadcast(ctx *quicp2p.Context, payload []byte) {
	for _, info := range ctx.BootstrapCache() {
		ctx.Send(quicp2p.NodePeer(info), payload)
	}
}

func parseNodeInfo(s string) (quicp2p.NodeInfo, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return quicp2p.NodeInfo{}, fmt.Errorf("expected address/base64cert, got %q", s)
	}
	addr, err := net.ResolveUDPAddr("udp", parts[0])
	if err != nil {
		return quicp2p.NodeInfo{}, err
	}
	cert, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return quicp2p.NodeInfo{}, err
	}
	return quicp2p.NodeInfo{PeerAddr: addr, PeerCertificate: cert}, nil
}
