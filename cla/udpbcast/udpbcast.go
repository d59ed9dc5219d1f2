// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udpbcast implements the datagram broadcast convergence-layer
// adapter: a single UDP broadcast packet per bundle, no per-node routing,
// bounded by the link's MTU.
package udpbcast

import (
	"bytes"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
)

const identifier cla.Identifier = "udpbcast"

// DefaultMTU is the conservative per-packet payload limit, per spec §4.4
// (e.g. 250 bytes on constrained links).
const DefaultMTU = 250

// BroadcastMAC documents the link-layer broadcast address this adapter
// conceptually targets; UDP's own broadcast address (e.g. 255.255.255.255)
// is what's actually dialed, since Go has no raw MAC-layer socket API.
const BroadcastMAC = "FF:FF:FF:FF:FF:FF"

// CLA is the push-based datagram-broadcast adapter.
type CLA struct {
	broadcastAddr string
	mtu           int

	conn *net.UDPConn
	port int

	stop chan struct{}
}

// Listen opens a UDP socket on listenAddr (":port") and prepares to
// broadcast to broadcastAddr ("255.255.255.255:port").
func Listen(listenAddr, broadcastAddr string, mtu int) (*CLA, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	if mtu <= 0 {
		mtu = DefaultMTU
	}

	_, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	return &CLA{
		broadcastAddr: broadcastAddr,
		mtu:           mtu,
		conn:          conn,
		port:          port,
		stop:          make(chan struct{}),
	}, nil
}

// Identifier returns "udpbcast".
func (c *CLA) Identifier() cla.Identifier { return identifier }

// IsBroadcast is always true: the router sends at most once per bundle,
// never to individual neighbors.
func (c *CLA) IsBroadcast() bool { return true }

// Port returns the bound listen port.
func (c *CLA) Port() int { return c.port }

// Close releases the underlying socket.
func (c *CLA) Close() error {
	close(c.stop)
	return c.conn.Close()
}

// Poll performs one non-blocking recv pass.
func (c *CLA) Poll() (*bpv7.Bundle, net.IP, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))

	buf := make([]byte, c.mtu)
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, nil
	}

	bndl, err := bpv7.ParseBundle(bytes.NewReader(buf[:n]))
	if err != nil {
		log.WithFields(log.Fields{"cla": "udpbcast", "error": err}).Warn("udpbcast: malformed bundle, dropping")
		return nil, nil, nil
	}

	return &bndl, addr.IP, nil
}

// SendTo broadcasts data, ignoring node (this CLA has no per-node routing).
// Payloads exceeding the configured MTU are rejected.
func (c *CLA) SendTo(_ *cla.Node, data []byte) bool {
	if len(data) > c.mtu {
		log.WithFields(log.Fields{"cla": "udpbcast", "size": len(data), "mtu": c.mtu}).
			Warn("udpbcast: payload exceeds link MTU, refusing to send")
		return false
	}

	addr, err := net.ResolveUDPAddr("udp", c.broadcastAddr)
	if err != nil {
		return false
	}

	_, err = c.conn.WriteToUDP(data, addr)
	return err == nil
}
