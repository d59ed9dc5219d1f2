// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mtcp implements the Minimal TCP Convergence-Layer adapter: a
// push-based CLA framing each bundle as a single definite-length CBOR byte
// string over a TCP stream, per the spec's §4.4/§6 MTCP framing.
package mtcp

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/dtn7/cboring"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
)

// DefaultPort is the MTCP default listen port, per spec §6.
const DefaultPort = 16162

const identifier cla.Identifier = "mtcp"

type received struct {
	bndl bpv7.Bundle
	from net.IP
}

// Config bounds the MTCP adapter's connection handling, sized down to
// single digits on constrained targets per spec §5.
type Config struct {
	// MaxWaitingAccept sizes the buffer of received bundles waiting to be
	// drained by Poll; a connection's reader blocks while it is full. It
	// does not bound accepted connections; only MaxOpenReceive does.
	MaxWaitingAccept int

	// MaxOpenReceive bounds the number of simultaneously open receiving
	// connections; when the table is full, the connection opened earliest
	// is half-closed to make room for a new one, whether or not it is idle.
	MaxOpenReceive int

	// InactiveReceiveTimeout is how long a receiving connection may take to
	// deliver its next bundle before it is closed. It is closed outright,
	// not half-closed.
	InactiveReceiveTimeout time.Duration

	// StalledSendTimeout bounds both the dial and the whole write of one
	// bundle; a send not finished within it is aborted, whether or not it
	// was still making progress.
	StalledSendTimeout time.Duration
}

// DefaultConfig returns sane, small-device-friendly defaults.
func DefaultConfig() Config {
	return Config{
		MaxWaitingAccept:       8,
		MaxOpenReceive:         8,
		InactiveReceiveTimeout: 2 * time.Minute,
		StalledSendTimeout:     10 * time.Second,
	}
}

// CLA is the push-based MTCP convergence-layer adapter: a listener accepting
// inbound bundle streams, and an on-demand dialer for outbound ones.
type CLA struct {
	cfg Config

	listener net.Listener
	port     int

	incoming chan received
	stop     chan struct{}

	conns *connTable
}

// Listen starts an MTCP listener on addr (host:port form, or ":16162" for
// all interfaces on the default port) and returns the adapter.
func Listen(addr string, cfg Config) (*CLA, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	c := &CLA{
		cfg:      cfg,
		listener: ln,
		port:     port,
		incoming: make(chan received, cfg.MaxWaitingAccept),
		stop:     make(chan struct{}),
		conns:    newConnTable(cfg.MaxOpenReceive),
	}

	go c.acceptLoop()

	return c, nil
}

// Identifier returns "mtcp".
func (c *CLA) Identifier() cla.Identifier { return identifier }

// IsBroadcast is always false for MTCP: it is a unicast stream CLA.
func (c *CLA) IsBroadcast() bool { return false }

// Port returns the listener's bound port.
func (c *CLA) Port() int { return c.port }

// Close stops the listener and every open connection.
func (c *CLA) Close() error {
	close(c.stop)
	c.conns.closeAll()
	if c.listener != nil {
		return c.listener.Close()
	}
	return nil
}

func (c *CLA) acceptLoop() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if tcpLn, ok := c.listener.(*net.TCPListener); ok {
			_ = tcpLn.SetDeadline(time.Now().Add(50 * time.Millisecond))
		}

		conn, err := c.listener.Accept()
		if err != nil {
			continue
		}

		if !c.conns.admit(conn) {
			log.WithField("cla", "mtcp").Warn("mtcp: open-receive table full, dropping connection")
			_ = conn.Close()
			continue
		}

		go c.handleConn(conn)
	}
}

func (c *CLA) handleConn(conn net.Conn) {
	defer c.conns.remove(conn)
	defer conn.Close()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.InactiveReceiveTimeout))

		raw, err := cboring.ReadByteString(conn)
		if err != nil {
			log.WithFields(log.Fields{"cla": "mtcp", "error": err}).Debug("mtcp: connection closed or protocol error")
			return
		}

		bndl, err := bpv7.ParseBundle(bytes.NewReader(raw))
		if err != nil {
			log.WithFields(log.Fields{"cla": "mtcp", "error": err}).Warn("mtcp: malformed bundle, dropping connection")
			return
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		select {
		case c.incoming <- received{bndl: bndl, from: net.ParseIP(host)}:
		case <-c.stop:
			return
		}
	}
}

// Poll drains at most one arrived bundle, non-blocking.
func (c *CLA) Poll() (*bpv7.Bundle, net.IP, error) {
	select {
	case r := <-c.incoming:
		return &r.bndl, r.from, nil
	default:
		return nil, nil, nil
	}
}

// SendTo dials node on a new connection for every call and sends data as a
// single CBOR byte string, aborting if the dial or the whole write does not
// finish within StalledSendTimeout.
func (c *CLA) SendTo(node *cla.Node, data []byte) bool {
	if node == nil {
		log.WithField("cla", "mtcp").Warn("mtcp: broadcast send requested but MTCP is unicast-only")
		return false
	}

	addr := fmt.Sprintf("%s:%d", node.Addr.String(), node.Port)
	conn, err := dial(addr, c.cfg.StalledSendTimeout)
	if err != nil {
		log.WithFields(log.Fields{"cla": "mtcp", "peer": addr, "error": err}).Debug("mtcp: dial failed")
		return false
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.StalledSendTimeout))

	if err := cboring.WriteByteString(data, conn); err != nil {
		log.WithFields(log.Fields{"cla": "mtcp", "peer": addr, "error": err}).Debug("mtcp: stalled send")
		return false
	}

	return true
}
