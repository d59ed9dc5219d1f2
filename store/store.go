// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package store implements the bounded in-memory catalog of delayed
// bundles, seen bundle-ids and known neighbor nodes backing the bundle
// protocol agent (C3).
//
// There is no persistence: everything lives in process memory behind a
// mutex, following the teacher's SimpleStore map-plus-mutex idiom, and is
// bounded by eviction rather than by swapping to disk.
package store

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpv7"
)

// RetentionConstraint is the RFC 9171 tag on an in-BPA bundle that prevents
// its premature collection.
type RetentionConstraint int

const (
	// NoConstraint means the bundle may be collected once nothing else
	// references it.
	NoConstraint RetentionConstraint = iota

	// DispatchPending is set while a bundle is being dispatched.
	DispatchPending

	// ForwardPending is set while a bundle is being forwarded, including
	// while it waits in the store for a retry.
	ForwardPending
)

func (c RetentionConstraint) String() string {
	switch c {
	case DispatchPending:
		return "dispatch-pending"
	case ForwardPending:
		return "forward-pending"
	default:
		return "none"
	}
}

// BundleInformation is the in-BPA wrapper around a bpv7.Bundle, tracking the
// bookkeeping the BPA and router need across a bundle's lifetime at this
// node.
type BundleInformation struct {
	Bundle bpv7.Bundle

	Retention        RetentionConstraint
	LocallyDelivered bool

	// ReceivedAtMillis is the local monotonic timestamp of reception (or of
	// local origination), used both for Bundle Age accounting and as the
	// store's eviction order when sweeping by reception time.
	ReceivedAtMillis int64

	// ForwardedToNodes is the set of neighbor addresses already forwarded
	// to during this bundle's life at this node. Keyed by net.IP.String().
	ForwardedToNodes map[string]net.IP

	// everForwarded remembers whether MarkForwarded was ever called, i.e.
	// whether this node ever forwarded the bundle, to pick the right deletion
	// reason on eviction (NoAdditionalInformation vs DepletedStorage).
	everForwarded bool
}

// ID returns the wrapped bundle's identity.
func (bi *BundleInformation) ID() bpv7.BundleID {
	return bi.Bundle.ID()
}

// MarkForwarded records addr (possibly nil for a broadcast-style send) as a
// node this bundle has now been forwarded to.
func (bi *BundleInformation) MarkForwarded(addr net.IP) {
	if bi.ForwardedToNodes == nil {
		bi.ForwardedToNodes = make(map[string]net.IP)
	}
	if addr != nil {
		bi.ForwardedToNodes[addr.String()] = addr
	}
	bi.everForwarded = true
}

// WasForwardedTo reports whether addr is already in ForwardedToNodes.
func (bi *BundleInformation) WasForwardedTo(addr net.IP) bool {
	if bi.ForwardedToNodes == nil || addr == nil {
		return false
	}
	_, ok := bi.ForwardedToNodes[addr.String()]
	return ok
}

// EverForwarded reports whether this bundle was ever successfully forwarded
// to at least one neighbor during its life at this node.
func (bi *BundleInformation) EverForwarded() bool {
	return bi.everForwarded
}

// Node is a known neighbor, identified solely by its IP address.
type Node struct {
	Addr net.IP

	EID bpv7.EndpointID

	// Services maps a CLA identifier (e.g. "mtcp") to the port the node
	// advertised for it. Replaced wholesale on every beacon, never merged,
	// so deactivated services disappear.
	Services map[string]uint16

	LastSequenceNumber uint32
	LastSeenMillis     int64
}

func (n *Node) String() string {
	return n.Addr.String() + " (" + n.EID.String() + ")"
}

// Store is the bounded, in-memory, thread-safe catalog of delayed bundles,
// seen bundle-ids, and known nodes.
type Store struct {
	mu sync.Mutex

	bundles map[string]*BundleInformation
	seen    map[string]seenEntry
	nodes   map[string]*Node

	maxStored int
	maxSeen   int
}

// seenEntry keeps the structured BundleID alongside the sender address so
// eviction can apply the time/sequence ordering without re-parsing the
// string key (the source URI itself may contain '-', so the key is not
// reliably reversible).
type seenEntry struct {
	id   bpv7.BundleID
	addr net.IP
}

// New creates an empty Store bounded by maxStored stored bundles and maxSeen
// remembered bundle-ids.
func New(maxStored, maxSeen int) *Store {
	return &Store{
		bundles:   make(map[string]*BundleInformation),
		seen:      make(map[string]seenEntry),
		nodes:     make(map[string]*Node),
		maxStored: maxStored,
		maxSeen:   maxSeen,
	}
}

// AddNode creates or updates the Node entry for the given address, per
// §3's Node lifetime: created on first beacon, replaced (not merged) on
// subsequent ones.
func (s *Store) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[n.Addr.String()] = n
}

// GetNode looks up a known node by address.
func (s *Store) GetNode(addr net.IP) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[addr.String()]
	return n, ok
}

// GetNodes returns a snapshot slice of all known nodes.
func (s *Store) GetNodes() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// WasSeen reports whether id is already in the seen-set.
func (s *Store) WasSeen(id bpv7.BundleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.seen[id.String()]
	return ok
}

// WasSeenString is WasSeen for a bundle-id already in its canonical string
// form, e.g. one a pull-based CLA reported through PollIDs. The seen-set is
// keyed by this very string internally, so no BundleID reconstruction (and
// thus no ambiguous re-parsing of a source URI that may itself contain '-')
// is needed.
func (s *Store) WasSeenString(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.seen[key]
	return ok
}

// GetSeen returns the address id was first seen from, and whether id is
// known at all. A known id with an unknown sender (e.g. a locally delayed
// bundle) returns (nil, true).
func (s *Store) GetSeen(id bpv7.BundleID) (net.IP, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.seen[id.String()]
	return entry.addr, ok
}

// StoreSeen idempotently records id as seen, from the given address
// (possibly nil). A previously recorded non-nil address is never
// overwritten by a later nil one, preserving the ability to recover the
// previous hop.
func (s *Store) StoreSeen(id bpv7.BundleID, from net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.String()
	if existing, ok := s.seen[key]; ok {
		if existing.addr != nil || from == nil {
			return
		}
		existing.addr = from
		s.seen[key] = existing
		return
	}

	s.evictSeenLocked()
	s.seen[key] = seenEntry{id: id, addr: from}
}

// evictSeenLocked drops the oldest remembered bundle-id if the seen-set is
// at capacity. Must be called with mu held.
func (s *Store) evictSeenLocked() {
	if s.maxSeen <= 0 || len(s.seen) < s.maxSeen {
		return
	}

	var oldestKey string
	var oldestID bpv7.BundleID
	first := true
	for key, entry := range s.seen {
		if first || entry.id.Less(oldestID) {
			oldestKey, oldestID, first = key, entry.id, false
		}
	}
	if oldestKey != "" {
		log.WithField("bundle", oldestKey).Debug("store: evicting oldest seen bundle-id")
		delete(s.seen, oldestKey)
	}
}

// RemoveBundle deletes the stored bundle with the given id, if present, and
// returns it. Per the "falsey on failure" contract, callers must check the
// boolean, not merely the pointer's truthiness in other languages' sense.
func (s *Store) RemoveBundle(id bpv7.BundleID) (*BundleInformation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.String()
	bi, ok := s.bundles[key]
	if !ok {
		return nil, false
	}
	delete(s.bundles, key)
	return bi, true
}

// BundlesToRetry returns a snapshot of every currently stored bundle,
// taken at call time: the BPA wraps this in a cursor so that a long list of
// delayed bundles is scanned fairly, one per tick, across calls.
func (s *Store) BundlesToRetry() []*BundleInformation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*BundleInformation, 0, len(s.bundles))
	for _, bi := range s.bundles {
		out = append(out, bi)
	}
	return out
}

// DelayBundle stores bi for a future retry, evicting older bundles if the
// store is over capacity afterwards. It reports ok=false only if the store
// could not make room (a store with zero capacity).
//
// Evicted bundles are returned so the caller (the BPA's forwarding
// procedure) can emit the correct deletion reason for each: the eviction
// policy itself only decides *which* bundles go, not why.
func (s *Store) DelayBundle(bi *BundleInformation) (ok bool, evicted []*BundleInformation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxStored <= 0 {
		return false, nil
	}

	s.bundles[bi.ID().String()] = bi

	for len(s.bundles) > s.maxStored {
		victim := s.pickEvictionVictimLocked()
		if victim == nil {
			break
		}
		delete(s.bundles, victim.ID().String())
		evicted = append(evicted, victim)
	}

	if len(s.bundles) > s.maxStored {
		// Nothing left to evict (every remaining bundle is the one we just
		// stored, itself needed) and still over cap: the store is genuinely
		// full of non-evictable bundles.
		delete(s.bundles, bi.ID().String())
		return false, evicted
	}

	return true, evicted
}

// pickEvictionVictimLocked implements the §4.3 eviction policy: first sweep
// away any bundle whose retention constraint is already "none" (plain
// garbage collection); if none qualify, evict the oldest by reception
// timestamp. Must be called with mu held.
func (s *Store) pickEvictionVictimLocked() *BundleInformation {
	for _, bi := range s.bundles {
		if bi.Retention == NoConstraint {
			return bi
		}
	}

	var oldest *BundleInformation
	for _, bi := range s.bundles {
		if oldest == nil || bi.ReceivedAtMillis < oldest.ReceivedAtMillis {
			oldest = bi
		}
	}
	return oldest
}
