// SPDX-FileCopyrightText: 2019 Markus Sommer
// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bpa implements the Bundle Protocol Agent state machine (C7): the
// RFC 9171 §5 reception, dispatching, forwarding, local delivery, and
// deletion procedures, driven by a single-threaded cooperative update loop
// over reified polling generators.
package bpa

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
	"github.com/dtn7/dtn7-agent/discovery"
	"github.com/dtn7/dtn7-agent/endpoint"
	"github.com/dtn7/dtn7-agent/router"
	"github.com/dtn7/dtn7-agent/store"
)

// storageRetryGenerator is the reified cursor over a snapshot of currently
// stored (delayed) bundles, pulled one per tick until the snapshot is
// exhausted, at which point it is dropped so the next tick takes a fresh
// snapshot.
type storageRetryGenerator struct {
	items []*store.BundleInformation
	idx   int
}

func (g *storageRetryGenerator) next() (*store.BundleInformation, bool) {
	if g.idx >= len(g.items) {
		return nil, false
	}
	bi := g.items[g.idx]
	g.idx++
	return bi, true
}

func (g *storageRetryGenerator) exhausted() bool {
	return g.idx >= len(g.items)
}

// BPA is the Bundle Protocol Agent: one per node, owning the store, the
// epidemic router, an optional IPND manager, and the local endpoint
// registry. There are no concurrent callers; Update must be invoked from a
// single goroutine (or pinned to a dedicated one via RunBackground).
type BPA struct {
	nodeURI string
	nodeEID bpv7.EndpointID
	clock   bpv7.Clock

	store    *store.Store
	router   *router.Epidemic
	registry *endpoint.Registry

	discoveryMgr *discovery.Manager

	queueMu sync.Mutex
	queue   []bpv7.Bundle

	storageGen *storageRetryGenerator

	stopBackground chan struct{}
}

// Config supplies the pieces a BPA is assembled from.
type Config struct {
	// NodeURI is this node's own full URI, e.g. "dtn://n1/" or "ipn://23".
	NodeURI string

	Clock  bpv7.Clock
	Store  *store.Store
	Router *router.Epidemic

	// Discovery, when non-nil, is polled once per tick for IPND.
	Discovery *discovery.Manager
}

// New creates a BPA from cfg. NodeURI must be a valid node URI (see
// bpv7.IsCorrectNodeURI).
func New(cfg Config) (*BPA, error) {
	eid, err := bpv7.NewEndpointID(cfg.NodeURI)
	if err != nil || !bpv7.IsCorrectNodeURI(cfg.NodeURI) {
		return nil, newBpaError(fmt.Sprintf("bpa: %q is not a valid node URI", cfg.NodeURI))
	}

	clock := cfg.Clock
	if clock == nil {
		clock = bpv7.NewSystemClock()
	}

	return &BPA{
		nodeURI:      cfg.NodeURI,
		nodeEID:      eid,
		clock:        clock,
		store:        cfg.Store,
		router:       cfg.Router,
		registry:     endpoint.NewRegistry(),
		discoveryMgr: cfg.Discovery,
	}, nil
}

// NodeURI implements endpoint.Dispatcher.
func (b *BPA) NodeURI() string { return b.nodeURI }

// NowMillis implements bpv7.Clock (embedded in endpoint.Dispatcher).
func (b *BPA) NowMillis() int64 { return b.clock.NowMillis() }

// HasAccurateTime implements bpv7.Clock (embedded in endpoint.Dispatcher).
func (b *BPA) HasAccurateTime() bool { return b.clock.HasAccurateTime() }

// QueueLocalBundle implements endpoint.Dispatcher: appends bndl to
// local_bundle_dispatch_queue for reception processing on a subsequent
// tick, never re-entering reception within the same tick.
func (b *BPA) QueueLocalBundle(bndl bpv7.Bundle) string {
	b.queueMu.Lock()
	b.queue = append(b.queue, bndl)
	b.queueMu.Unlock()

	return bndl.ID().String()
}

func (b *BPA) popLocalQueue() (bpv7.Bundle, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	if len(b.queue) == 0 {
		return bpv7.Bundle{}, false
	}
	bndl := b.queue[0]
	b.queue = b.queue[1:]
	return bndl, true
}

// RegisterEndpoint registers a unicast local endpoint at uri. callback may
// be nil for a poll-style endpoint.
func (b *BPA) RegisterEndpoint(uri string, callback func(bpv7.Bundle)) (*endpoint.Local, error) {
	return b.registry.Register(b, uri, callback)
}

// RegisterGroupEndpoint adds another receiver under the group endpoint uri.
func (b *BPA) RegisterGroupEndpoint(uri string, callback func(bpv7.Bundle)) (*endpoint.Local, error) {
	return b.registry.RegisterGroup(b, uri, callback)
}

// UnregisterEndpoint removes a unicast endpoint.
func (b *BPA) UnregisterEndpoint(uri string) error {
	return b.registry.Unregister(uri)
}

// UnregisterGroupEndpoint removes one receiver from a group endpoint.
func (b *BPA) UnregisterGroupEndpoint(uri string, l *endpoint.Local) error {
	return b.registry.UnregisterGroup(uri, l)
}

// CancelTransmission removes a still-stored bundle by id, reporting whether
// it was present. No other operation carries a cancellation hook.
func (b *BPA) CancelTransmission(id bpv7.BundleID) bool {
	_, ok := b.store.RemoveBundle(id)
	return ok
}

// Update runs exactly one cooperative tick, in the fixed order: discovery,
// one storage retry, one locally queued bundle, one router poll. Each step
// yields at most one bundle into the reception/dispatching pipeline.
func (b *BPA) Update() {
	if b.discoveryMgr != nil {
		b.discoveryMgr.Update(time.Now())
	}

	b.updateStorageRetry()
	b.updateLocalQueue()
	b.updateRouterPoll()
}

func (b *BPA) updateStorageRetry() {
	if b.storageGen == nil {
		b.storageGen = &storageRetryGenerator{items: b.store.BundlesToRetry()}
	}

	if bi, ok := b.storageGen.next(); ok {
		b.bundleDispatching(bi)
	}

	if b.storageGen.exhausted() {
		b.storageGen = nil
	}
}

func (b *BPA) updateLocalQueue() {
	bndl, ok := b.popLocalQueue()
	if !ok {
		return
	}
	b.bundleReception(bndl, nil)
}

func (b *BPA) updateRouterPoll() {
	if b.router == nil {
		return
	}

	bndl, from, err := b.router.Poll()
	if err != nil {
		log.WithFields(log.Fields{"bpa": "update", "error": err}).Debug("bpa: router poll failed")
		return
	}
	if bndl == nil {
		return
	}
	b.bundleReception(*bndl, from)
}

// isKnownExtensionBlockType reports whether this agent recognizes
// blockType, i.e. whether the CanonicalBlock's Value is anything other than
// a GenericExtensionBlock.
func isKnownExtensionBlockType(blockType uint64) bool {
	switch blockType {
	case bpv7.ExtBlockTypePayloadBlock, bpv7.ExtBlockTypePreviousNodeBlock,
		bpv7.ExtBlockTypeBundleAgeBlock, bpv7.ExtBlockTypeHopCountBlock:
		return true
	default:
		return false
	}
}

// bundleReception implements RFC 9171 §5.6: sets dispatch-pending,
// resolves unknown extension blocks, enforces hop-count and lifetime, then
// proceeds to dispatching. from is nil for a locally originated bundle.
func (b *BPA) bundleReception(bndl bpv7.Bundle, from net.IP) {
	id := bndl.ID()

	log.WithFields(log.Fields{"bpa": "reception", "bundle": id}).Debug("bpa: received bundle")

	bi := &store.BundleInformation{
		Bundle:           bndl,
		Retention:        store.DispatchPending,
		ReceivedAtMillis: b.clock.NowMillis(),
	}

	for i := len(bi.Bundle.CanonicalBlocks) - 1; i >= 0; i-- {
		cb := bi.Bundle.CanonicalBlocks[i]
		if isKnownExtensionBlockType(cb.TypeCode()) {
			continue
		}

		log.WithFields(log.Fields{"bpa": "reception", "bundle": id, "block_type": cb.TypeCode()}).
			Warn("bpa: unknown extension block")

		// StatusReportBlock hook: this agent never emits status reports
		// (see bundleDeletion), so there is nothing further to do here.

		if cb.BlockControlFlags.Has(bpv7.DeleteBundle) {
			b.bundleDeletion(bi, bpv7.BlockUnsupported)
			return
		}

		if cb.BlockControlFlags.Has(bpv7.RemoveBlock) {
			blocks := bi.Bundle.CanonicalBlocks
			bi.Bundle.CanonicalBlocks = append(blocks[:i], blocks[i+1:]...)
		}
	}

	if cb, err := bi.Bundle.ExtensionBlock(bpv7.ExtBlockTypeHopCountBlock); err == nil {
		if cb.Value.(*bpv7.HopCountBlock).IsExceeded() {
			b.bundleDeletion(bi, bpv7.HopLimitExceeded)
			return
		}
	}

	if cb, err := bi.Bundle.ExtensionBlock(bpv7.ExtBlockTypeBundleAgeBlock); err == nil {
		age := cb.Value.(*bpv7.BundleAgeBlock).Age()
		if age >= bi.Bundle.PrimaryBlock.Lifetime {
			b.bundleDeletion(bi, bpv7.LifetimeExpired)
			return
		}
	}

	ts := bi.Bundle.PrimaryBlock.CreationTimestamp
	if b.clock.HasAccurateTime() && !ts.IsZeroTime() {
		createdMillis := ts.DtnTime().Unix() * 1000
		expiryMillis := createdMillis + int64(bi.Bundle.PrimaryBlock.Lifetime)
		if time.Now().UnixMilli() > expiryMillis {
			b.bundleDeletion(bi, bpv7.LifetimeExpired)
			return
		}
	}

	b.store.StoreSeen(id, from)

	if from != nil {
		// The sender is recorded so the bundle is never reflected back to it;
		// this alone does not count as this node having forwarded the bundle.
		bi.ForwardedToNodes = map[string]net.IP{from.String(): from}
	}

	b.bundleDispatching(bi)
}

// bundleDispatching delivers locally when this node owns the destination
// URI, then always continues to forwarding: a bundle keeps propagating even
// after local delivery unless it was produced locally and has nowhere else
// to go.
func (b *BPA) bundleDispatching(bi *store.BundleInformation) {
	dest := bi.Bundle.PrimaryBlock.Destination.String()

	log.WithFields(log.Fields{"bpa": "dispatching", "bundle": bi.ID()}).Debug("bpa: dispatching bundle")

	if !bi.LocallyDelivered && b.registry.HasEndpoint(dest) {
		b.localDelivery(bi, dest)
	}

	b.forwarding(bi)
}

func (b *BPA) localDelivery(bi *store.BundleInformation, dest string) {
	log.WithFields(log.Fields{"bpa": "local_delivery", "bundle": bi.ID(), "endpoint": dest}).
		Info("bpa: delivering bundle to local endpoint")

	bi.LocallyDelivered = true

	if _, err := bi.Bundle.PayloadBlock(); err != nil {
		log.WithFields(log.Fields{"bpa": "local_delivery", "bundle": bi.ID(), "error": err}).
			Warn("bpa: bundle has no payload block")
		return
	}

	for _, l := range b.registry.Receivers(dest) {
		l.Deliver(bi.Bundle)
	}
}

// forwarding implements the forward-pending half of the lifecycle: an
// immediate attempt, then either success, delayed retry, best-effort
// send-back, or deletion, per the reason code the router returns.
func (b *BPA) forwarding(bi *store.BundleInformation) {
	bi.Retention = store.ForwardPending

	if b.router == nil {
		b.bundleDeletion(bi, bpv7.NoKnownRouteToDestination)
		return
	}

	ok, reason := b.router.ImmediateForwardingAttempt(bi, b.nodeEID, bi.ReceivedAtMillis, b.clock.NowMillis())
	if ok {
		log.WithFields(log.Fields{"bpa": "forwarding", "bundle": bi.ID()}).Info("bpa: bundle forwarded")
		bi.Retention = store.NoConstraint
		b.store.RemoveBundle(bi.ID())
		return
	}

	if isDelayableReason(reason) {
		if delayOK, evicted := b.store.DelayBundle(bi); delayOK {
			log.WithFields(log.Fields{"bpa": "forwarding", "bundle": bi.ID(), "reason": reason}).
				Debug("bpa: bundle delayed for retry")
			b.deleteEvicted(evicted)
			return
		}
		reason = bpv7.DepletedStorage
	}

	if b.router.SendToPreviousNode(bi) {
		log.WithFields(log.Fields{"bpa": "forwarding", "bundle": bi.ID()}).
			Info("bpa: sent back to previous node after forwarding failure")
		bi.Retention = store.NoConstraint
		b.store.RemoveBundle(bi.ID())
		return
	}

	if b.registry.HasEndpoint(bi.Bundle.PrimaryBlock.Destination.String()) {
		// We are ourselves a destination registrant; local delivery already
		// happened (or will on a later retry), so just drop the retention.
		bi.Retention = store.NoConstraint
		b.store.RemoveBundle(bi.ID())
		return
	}

	b.bundleDeletion(bi, reason)
}

func isDelayableReason(reason bpv7.StatusReportReason) bool {
	switch reason {
	case bpv7.NoKnownRouteToDestination, bpv7.NoTimelyContactWithNextNode, bpv7.TrafficPared:
		return true
	default:
		return false
	}
}

// deleteEvicted emits the deletion reason for bundles store.DelayBundle
// pushed out to make room: NoAdditionalInformation if the bundle had ever
// been forwarded, DepletedStorage otherwise.
func (b *BPA) deleteEvicted(evicted []*store.BundleInformation) {
	for _, bi := range evicted {
		reason := bpv7.DepletedStorage
		if bi.EverForwarded() {
			reason = bpv7.NoAdditionalInformation
		}
		b.bundleDeletion(bi, reason)
	}
}

// bundleDeletion clears all retention constraints and logs the reason. The
// deletion status report hook is a no-op: this agent never emits
// administrative records.
func (b *BPA) bundleDeletion(bi *store.BundleInformation, reason bpv7.StatusReportReason) {
	bi.Retention = store.NoConstraint
	b.store.RemoveBundle(bi.ID())

	log.WithFields(log.Fields{"bpa": "deletion", "bundle": bi.ID(), "reason": reason}).
		Info("bpa: bundle deleted")
}

// AddCLA registers a convergence-layer adapter with the underlying router.
func (b *BPA) AddCLA(c cla.CLA) {
	if b.router != nil {
		b.router.AddCLA(c)
	}
}

// RunBackground pins Update on a dedicated goroutine, firing every period,
// until StopBackground is called. This is the supplemented "background update"
// facility: once running, callers may only interact with the BPA through
// its thread-safe surfaces (QueueLocalBundle, the store, and endpoint
// poll/callback delivery) — Update itself must never run concurrently with
// this loop.
func (b *BPA) RunBackground(period time.Duration) {
	b.stopBackground = make(chan struct{})
	ticker := time.NewTicker(period)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Update()
			case <-b.stopBackground:
				return
			}
		}
	}()
}

// StopBackground halts a RunBackground loop previously started.
func (b *BPA) StopBackground() {
	if b.stopBackground != nil {
		close(b.stopBackground)
		b.stopBackground = nil
	}
}
