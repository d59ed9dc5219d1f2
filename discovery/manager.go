// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery implements IP Neighbor Discovery (IPND): a periodic
// beacon broadcast over UDP that advertises this node's EID and CLA
// services, and learns neighbors from the beacons it receives.
package discovery

import (
	"bytes"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/store"
)

// DefaultPort is the IPND UDP port, per spec §6.
const DefaultPort = 3003

// DefaultBeaconMaxSize is the receive buffer size on general-purpose hosts;
// constrained targets should configure 256 instead.
const DefaultBeaconMaxSize = 4096

// Config configures a Manager.
type Config struct {
	// SendInterval is how often the periodic broadcast fires.
	SendInterval time.Duration
	// BeaconMaxSize bounds the receive buffer for one datagram.
	BeaconMaxSize int
	// Broadcasts is the list of "ip:port" broadcast addresses to send to,
	// one per local interface.
	Broadcasts []string
}

// DefaultConfig returns general-purpose-host defaults.
func DefaultConfig() Config {
	return Config{
		SendInterval:  10 * time.Second,
		BeaconMaxSize: DefaultBeaconMaxSize,
	}
}

// Manager runs the IPND protocol: it owns this node's own beacon state,
// listens for neighbors' beacons, and periodically broadcasts its own.
type Manager struct {
	cfg   Config
	store *store.Store
	conn  *net.UDPConn
	port  int

	ownEID      bpv7.EndpointID
	ownServices map[string]uint16
	sequence    uint32

	lastBroadcast time.Time

	// addressFilter, when set, is consulted before a received beacon is
	// processed; beacons from addresses for which it returns false are
	// dropped. This is the whitelist/blacklist hook a constrained deployment
	// uses to ignore interfaces it doesn't trust.
	addressFilter func(net.IP) bool

	// ownAddrs are addresses this process itself may broadcast from, so its
	// own beacons echoed back by the kernel are recognized and dropped.
	ownAddrs map[string]struct{}
}

// Listen opens the IPND UDP socket and returns a Manager for the given own
// EID, CLA service map, and bundle/node store.
func Listen(addr string, ownEID bpv7.EndpointID, services map[string]uint16, st *store.Store, cfg Config) (*Manager, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	if cfg.BeaconMaxSize <= 0 {
		cfg.BeaconMaxSize = DefaultBeaconMaxSize
	}

	_, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	ownAddrs := make(map[string]struct{})
	if ifaceAddrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range ifaceAddrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				ownAddrs[ipNet.IP.String()] = struct{}{}
			}
		}
	}

	return &Manager{
		cfg:         cfg,
		store:       st,
		conn:        conn,
		port:        port,
		ownEID:      ownEID,
		ownServices: services,
		ownAddrs:    ownAddrs,
	}, nil
}

// SetAddressFilter installs a predicate deciding whether a received beacon's
// source address is accepted for processing. A SUPPLEMENTED, constrained-
// deployment hook: whitelist/blacklist interfaces IPND listens to.
func (m *Manager) SetAddressFilter(filter func(net.IP) bool) {
	m.addressFilter = filter
}

// Port returns the bound IPND listen port.
func (m *Manager) Port() int { return m.port }

// Close releases the IPND socket.
func (m *Manager) Close() error {
	return m.conn.Close()
}

func (m *Manager) ownBeacon(unicastReply bool) *Beacon {
	b := &Beacon{
		EID:         m.ownEID,
		HasEID:      true,
		Sequence:    m.sequence,
		Services:    m.ownServices,
		HasServices: len(m.ownServices) > 0 || unicastReply,
	}
	if unicastReply {
		b.UnicastMarker = true
	}
	return b
}

// Update performs one tick: a single non-blocking receive, and a periodic
// broadcast if the send interval has elapsed.
func (m *Manager) Update(now time.Time) {
	m.receiveOnce()

	if m.lastBroadcast.IsZero() || now.Sub(m.lastBroadcast) >= m.cfg.SendInterval {
		m.broadcast()
		m.lastBroadcast = now
		m.sequence++ // 32-bit wrap-around is implicit in uint32 overflow.
	}
}

func (m *Manager) receiveOnce() {
	_ = m.conn.SetReadDeadline(time.Now().Add(time.Millisecond))

	buf := make([]byte, m.cfg.BeaconMaxSize)
	n, addr, err := m.conn.ReadFromUDP(buf)
	if err != nil {
		return
	}

	if _, ours := m.ownAddrs[addr.IP.String()]; ours {
		return
	}
	if m.addressFilter != nil && !m.addressFilter(addr.IP) {
		return
	}

	var beacon Beacon
	if err := beacon.UnmarshalCbor(bytes.NewReader(buf[:n])); err != nil {
		log.WithFields(log.Fields{"discovery": "ipnd", "peer": addr, "error": err}).
			Warn("discovery: failed to parse incoming beacon")
		return
	}

	m.handleBeacon(&beacon, addr.IP)
}

func (m *Manager) handleBeacon(beacon *Beacon, from net.IP) {
	node, known := m.store.GetNode(from)

	sequenceContinuous := known && node.LastSequenceNumber+1 == beacon.Sequence

	updated := &store.Node{
		Addr:               from,
		EID:                beacon.EID,
		Services:           beacon.Services,
		LastSequenceNumber: beacon.Sequence,
		LastSeenMillis:     time.Now().UnixMilli(),
	}
	m.store.AddNode(updated)

	log.WithFields(log.Fields{
		"discovery":  "ipnd",
		"peer":       from,
		"node":       updated,
		"continuous": sequenceContinuous,
	}).Debug("discovery: received beacon")

	if !sequenceContinuous && !beacon.UnicastMarker {
		m.sendCatchUp(from)
	}
}

// sendCatchUp replies to an out-of-sequence beacon with our own beacon,
// temporarily marked "unicast" so the sender doesn't reply in kind. The
// marker lives only for this one send; it never leaks into the next
// periodic broadcast. Per spec §9's open question (c), this must stay on
// the single update() thread, since it mutates no shared state concurrently
// with anything else.
func (m *Manager) sendCatchUp(to net.IP) {
	reply := m.ownBeacon(true)
	data, err := marshalBeacon(reply)
	if err != nil {
		log.WithFields(log.Fields{"discovery": "ipnd", "error": err}).Warn("discovery: failed to encode catch-up beacon")
		return
	}

	addr := &net.UDPAddr{IP: to, Port: DefaultPort}
	if _, err := m.conn.WriteToUDP(data, addr); err != nil {
		log.WithFields(log.Fields{"discovery": "ipnd", "peer": to, "error": err}).
			Debug("discovery: failed to send catch-up beacon")
	}
}

func (m *Manager) broadcast() {
	beacon := m.ownBeacon(false)
	data, err := marshalBeacon(beacon)
	if err != nil {
		log.WithFields(log.Fields{"discovery": "ipnd", "error": err}).Warn("discovery: failed to encode beacon")
		return
	}

	for _, bcast := range m.cfg.Broadcasts {
		addr, err := net.ResolveUDPAddr("udp", bcast)
		if err != nil {
			continue
		}
		if _, err := m.conn.WriteToUDP(data, addr); err != nil {
			log.WithFields(log.Fields{"discovery": "ipnd", "broadcast": bcast, "error": err}).
				Debug("discovery: broadcast send failed")
		}
	}
}

func marshalBeacon(b *Beacon) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := b.MarshalCbor(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
