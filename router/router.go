// SPDX-FileCopyrightText: 2019 Markus Sommer
// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package router implements epidemic routing: flooding a bundle to every
// reachable neighbor, with per-hop bundle preparation and a fairness-aware
// polling generator across a node's configured convergence-layer adapters.
package router

import (
	"bytes"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
	"github.com/dtn7/dtn7-agent/store"
)

// Config tunes the epidemic router.
type Config struct {
	// AttachPreviousNodeBlock, when true, inserts a fresh Previous Node
	// Block on every per-hop preparation.
	AttachPreviousNodeBlock bool

	// MinNodesToForward is the forwarded-neighbor count below which a
	// forwarding attempt is still reported as failed, even though some
	// sends may have succeeded.
	MinNodesToForward int
}

// Epidemic is a flooding router coupled to a Store and a set of CLAs.
type Epidemic struct {
	cfg   Config
	store *store.Store
	clas  []cla.CLA
	ownEID bpv7.EndpointID

	// claIdx is the round-robin cursor across e.clas, surviving between
	// Poll calls so repeated ticks give every CLA a fair turn.
	claIdx int

	// pullNodeIdx is, per pull-CLA identifier, the cursor into the known
	// nodes list to resume from on the next Poll call.
	pullNodeIdx map[cla.Identifier]int

	// stickyPush is the push CLA currently being drained; kept across Poll
	// calls until it reports no further bundle, per the "drain until empty"
	// rule, then cleared so the round-robin resumes elsewhere.
	stickyPush cla.PushCLA
}

// NewEpidemic creates an Epidemic router for ownEID, backed by st.
func NewEpidemic(ownEID bpv7.EndpointID, st *store.Store, cfg Config) *Epidemic {
	return &Epidemic{
		cfg:         cfg,
		store:       st,
		ownEID:      ownEID,
		pullNodeIdx: make(map[cla.Identifier]int),
	}
}

// AddCLA registers a convergence-layer adapter with this router.
func (e *Epidemic) AddCLA(c cla.CLA) {
	e.clas = append(e.clas, c)
}

// CLAs returns the registered convergence-layer adapters.
func (e *Epidemic) CLAs() []cla.CLA {
	return e.clas
}

// PrepareForHop returns the per-hop wire bytes of bndl: any existing
// Previous Node Block is removed; if configured, a fresh one naming ownEID
// is inserted; a present Bundle Age Block is advanced by the time this
// bundle spent at this node; a present Hop Count Block is incremented. The
// input bundle is left untouched; callers keep their copy for the seen-set
// and future forwarding attempts.
func (e *Epidemic) PrepareForHop(bndl bpv7.Bundle, receivedAtMillis, nowMillis int64) ([]byte, error) {
	hop := bndl
	hop.CanonicalBlocks = append([]bpv7.CanonicalBlock(nil), bndl.CanonicalBlocks...)

	filtered := hop.CanonicalBlocks[:0]
	for _, cb := range hop.CanonicalBlocks {
		if cb.TypeCode() == bpv7.ExtBlockTypePreviousNodeBlock {
			continue
		}
		filtered = append(filtered, cb)
	}
	hop.CanonicalBlocks = filtered

	if e.cfg.AttachPreviousNodeBlock {
		pnb := bpv7.NewPreviousNodeBlock(e.ownEID)
		hop.AddExtensionBlock(bpv7.NewCanonicalBlock(0, bpv7.RemoveBlock, pnb))
	}

	if cb, err := hop.ExtensionBlock(bpv7.ExtBlockTypeBundleAgeBlock); err == nil {
		age := *cb.Value.(*bpv7.BundleAgeBlock)
		age.IncrementBy(uint64(nowMillis - receivedAtMillis))
		cb.Value = &age
	}

	if cb, err := hop.ExtensionBlock(bpv7.ExtBlockTypeHopCountBlock); err == nil {
		hc := *cb.Value.(*bpv7.HopCountBlock)
		hc.Increment()
		cb.Value = &hc
	}

	buf := new(bytes.Buffer)
	if err := hop.WriteBundle(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Poll runs one round of the epidemic polling generator: at most one fresh
// bundle is yielded per call, and its id is recorded in the seen-set via
// admit. The sender itself isn't known to the store yet at this point — no
// BundleInformation exists until the caller constructs one on reception — so
// it's the caller's job to pre-populate forwarded_to_nodes with the sender
// (bpa.bundleReception does so) so the bundle is never
// reflected back to where it came from.
func (e *Epidemic) Poll() (*bpv7.Bundle, net.IP, error) {
	if len(e.clas) == 0 {
		return nil, nil, nil
	}

	if e.stickyPush != nil {
		bndl, from, err := e.stickyPush.Poll()
		if err != nil {
			e.stickyPush = nil
		} else if bndl != nil {
			return e.admit(bndl, from), from, nil
		} else {
			e.stickyPush = nil
		}
	}

	for attempts := 0; attempts < len(e.clas); attempts++ {
		idx := e.claIdx
		e.claIdx = (e.claIdx + 1) % len(e.clas)
		c := e.clas[idx]

		if pull, ok := c.(cla.PullCLA); ok {
			if pd, ok := c.(cla.PushDrain); ok {
				if bndl, from := pd.DrainPushed(); bndl != nil {
					return e.admit(bndl, from), from, nil
				}
			}
			if bndl, from := e.pollPull(pull); bndl != nil {
				return e.admit(bndl, from), from, nil
			}
			continue
		}

		if push, ok := c.(cla.PushCLA); ok {
			bndl, from, err := push.Poll()
			if err != nil || bndl == nil {
				continue
			}
			e.stickyPush = push
			return e.admit(bndl, from), from, nil
		}
	}

	return nil, nil, nil
}

func (e *Epidemic) admit(bndl *bpv7.Bundle, from net.IP) *bpv7.Bundle {
	id := bndl.ID()
	e.store.StoreSeen(id, from)
	return bndl
}

// pollPull iterates pull's known nodes starting from its saved cursor,
// stopping at the first node offering a bundle id we haven't seen, to
// preserve fairness across nodes on subsequent rounds.
func (e *Epidemic) pollPull(pull cla.PullCLA) (*bpv7.Bundle, net.IP) {
	nodes := e.store.GetNodes()
	if len(nodes) == 0 {
		return nil, nil
	}

	start := e.pullNodeIdx[pull.Identifier()] % len(nodes)
	for i := 0; i < len(nodes); i++ {
		nodeIdx := (start + i) % len(nodes)
		n := nodes[nodeIdx]

		port, ok := n.Services[string(pull.Identifier())]
		if !ok {
			continue
		}
		target := &cla.Node{Addr: n.Addr, Port: int(port)}

		ids, err := pull.PollIDs(target)
		if err != nil {
			log.WithFields(log.Fields{"router": "epidemic", "node": n, "error": err}).
				Debug("router: poll_ids failed")
			continue
		}

		for _, id := range ids {
			if e.store.WasSeenString(id) {
				continue
			}

			bndl, from, err := pull.Poll(id, target)
			if err != nil || bndl == nil {
				continue
			}

			e.pullNodeIdx[pull.Identifier()] = (nodeIdx + 1) % len(nodes)
			return bndl, from
		}
	}

	e.pullNodeIdx[pull.Identifier()] = (start + 1) % len(nodes)
	return nil, nil
}

// ImmediateForwardingAttempt tries every known neighbor not already in
// bi.ForwardedToNodes on each non-broadcast CLA, then pushes once over any
// configured broadcast-style CLA. It reports whether enough neighbors were
// reached and, on failure, the reason code to record.
func (e *Epidemic) ImmediateForwardingAttempt(bi *store.BundleInformation, ownEID bpv7.EndpointID, receivedAtMillis, nowMillis int64) (bool, bpv7.StatusReportReason) {
	data, err := e.PrepareForHop(bi.Bundle, receivedAtMillis, nowMillis)
	if err != nil {
		log.WithFields(log.Fields{"router": "epidemic", "bundle": bi.ID(), "error": err}).
			Warn("router: failed to prepare bundle for hop")
		return false, bpv7.BlockUnintelligible
	}

	reason := bpv7.NoKnownRouteToDestination

	for _, n := range e.store.GetNodes() {
		if bi.WasForwardedTo(n.Addr) {
			continue
		}

		sent := false
		for _, c := range e.clas {
			if c.IsBroadcast() {
				continue
			}

			port, ok := n.Services[string(c.Identifier())]
			if !ok {
				continue
			}
			target := &cla.Node{Addr: n.Addr, Port: int(port)}

			if c.SendTo(target, data) {
				sent = true
				break
			}
			reason = bpv7.TrafficPared
		}

		if sent {
			bi.MarkForwarded(n.Addr)
		}
	}

	for _, c := range e.clas {
		if !c.IsBroadcast() {
			continue
		}
		if c.SendTo(nil, data) {
			reason = bpv7.ForwardedOverUnidirectionalLink
		}
	}

	return len(bi.ForwardedToNodes) >= e.cfg.MinNodesToForward, reason
}

// SendToPreviousNode attempts best-effort delivery back to whoever this
// bundle was received from, used in the forwarding-failure recovery path.
func (e *Epidemic) SendToPreviousNode(bi *store.BundleInformation) bool {
	addr, ok := e.store.GetSeen(bi.ID())
	if !ok || addr == nil {
		return false
	}

	node, ok := e.store.GetNode(addr)
	if !ok {
		return false
	}

	data, err := e.PrepareForHop(bi.Bundle, bi.ReceivedAtMillis, bi.ReceivedAtMillis)
	if err != nil {
		return false
	}

	for _, c := range e.clas {
		if c.IsBroadcast() {
			continue
		}
		port, ok := node.Services[string(c.Identifier())]
		if !ok {
			continue
		}
		if c.SendTo(&cla.Node{Addr: node.Addr, Port: int(port)}, data) {
			return true
		}
	}

	return false
}
