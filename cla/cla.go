// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cla defines the pluggable convergence-layer adapter abstraction
// (C4): two polling disciplines a concrete link can implement, pull-based
// and push-based, so the router can drive every configured link from a
// single cooperative polling loop without blocking on any one of them.
package cla

import (
	"net"

	"github.com/dtn7/dtn7-agent/bpv7"
)

// Identifier is the CLA identifier string advertised in IPND service blocks
// and used by the router to tell CLAs apart, e.g. "mtcp", "radio".
type Identifier string

// CLA is the subset both disciplines share.
type CLA interface {
	// Identifier returns this CLA's identifier, e.g. "mtcp".
	Identifier() Identifier

	// IsBroadcast reports whether this CLA addresses a shared medium rather
	// than individual neighbors: the router sends at most once per bundle
	// on a broadcast-style CLA, regardless of neighbor count, and excludes
	// it from the per-neighbor send_to loop.
	IsBroadcast() bool

	// Port is the advertised listen port, for IPND service-block entries.
	// Zero if this CLA does not listen (pure sender).
	Port() int

	// Close releases this CLA's resources (listeners, connections).
	Close() error
}

// PullCLA is appropriate for peers exposing a bundle-index API (e.g. HTTP):
// the router enumerates a remote node's known bundle ids, then fetches the
// ones it hasn't seen.
type PullCLA interface {
	CLA

	// PollIDs returns the bundle ids node currently offers, or an error if
	// the node could not be reached.
	PollIDs(node *Node) ([]string, error)

	// Poll fetches one specific bundle by id from node.
	Poll(id string, node *Node) (*bpv7.Bundle, net.IP, error)

	// SendTo transmits the already-serialized bundle bytes to node.
	SendTo(node *Node, data []byte) bool
}

// PushCLA is appropriate for stream or broadcast links: bundles arrive
// asynchronously and are drained one at a time; sends go out immediately.
type PushCLA interface {
	CLA

	// Poll drains at most one arrived bundle, non-blocking. A nil bundle
	// with no error means nothing is currently available.
	Poll() (*bpv7.Bundle, net.IP, error)

	// SendTo transmits data to node. A nil node means "broadcast" for a
	// broadcast-style CLA.
	SendTo(node *Node, data []byte) bool
}

// PushDrain is an optional capability a PullCLA may additionally implement:
// bundles that arrive asynchronously out-of-band (e.g. an HTTP server
// handling an unsolicited push from a peer, off the update-tick goroutine)
// and are buffered for the router to drain one at a time, same discipline
// as PushCLA.Poll.
type PushDrain interface {
	// DrainPushed returns one buffered bundle, non-blocking, or nil if none
	// is waiting.
	DrainPushed() (*bpv7.Bundle, net.IP)
}

// Node is the addressing information a CLA needs to dial a neighbor: its IP
// address and the port it advertised for this CLA identifier.
type Node struct {
	Addr net.IP
	Port int
}

func (n Node) String() string {
	return n.Addr.String()
}
