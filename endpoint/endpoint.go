// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package endpoint implements the application-facing local endpoint (C8):
// a named receiver at a node, owning a full endpoint URI, through which an
// application sends and receives bundles.
package endpoint

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dtn7/dtn7-agent/bpv7"
)

// Dispatcher is the handle a Local endpoint receives at registration time
// instead of a back-reference to the whole BPA, breaking the BPA/endpoint
// cyclic dependency per the design notes: the BPA implements this, an
// endpoint only ever sees this narrow interface.
type Dispatcher interface {
	bpv7.Clock

	// NodeURI returns the owning node's full URI.
	NodeURI() string

	// QueueLocalBundle appends a locally originated bundle to the BPA's
	// local_bundle_dispatch_queue, for exactly-one-per-tick reception
	// processing, and returns its bundle-id.
	QueueLocalBundle(bndl bpv7.Bundle) string
}

// DefaultHopLimit is the Hop Count Block limit every locally originated
// bundle is sent with, per §4.2.
const DefaultHopLimit = 32

// Local is an application-facing endpoint: it synthesizes bundles for
// transmission and receives delivered ones, either via a synchronous
// callback or a polled FIFO buffer.
type Local struct {
	uri        string
	isGroup    bool
	dispatcher Dispatcher

	callback func(bpv7.Bundle)

	mu       sync.Mutex
	inbox    []bpv7.Bundle
	lastMs   int64
	sequence uint64
}

// URI returns this endpoint's full URI.
func (l *Local) URI() string { return l.uri }

// IsGroup reports whether this endpoint is a group (multicast) endpoint.
func (l *Local) IsGroup() bool { return l.isGroup }

// Deliver hands a locally-delivered bundle to this endpoint: synchronously
// to the callback if one was supplied at registration, otherwise appended
// to the poll buffer.
func (l *Local) Deliver(bndl bpv7.Bundle) {
	if l.callback != nil {
		l.callback(bndl)
		return
	}

	l.mu.Lock()
	l.inbox = append(l.inbox, bndl)
	l.mu.Unlock()
}

// Poll removes and returns the oldest buffered bundle, if any. Only
// meaningful for poll-style endpoints (those registered without a
// callback); a callback-style endpoint's inbox is always empty.
func (l *Local) Poll() (bpv7.Bundle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.inbox) == 0 {
		return bpv7.Bundle{}, false
	}
	bndl := l.inbox[0]
	l.inbox = l.inbox[1:]
	return bndl, true
}

// nextTimestamp computes this endpoint's next CreationTimestamp per §4.2:
// on clock-less nodes, the time is always zero and the sequence number
// increments monotonically; on dated nodes, the sequence resets to zero
// whenever the current DtnTime, which counts seconds, differs from the last
// one used, and increments otherwise.
func (l *Local) nextTimestamp() bpv7.CreationTimestamp {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dispatcher.HasAccurateTime() {
		ts := bpv7.NewCreationTimestamp(bpv7.DtnTimeZero, l.sequence)
		l.sequence++
		return ts
	}

	now := bpv7.DtnTimeNow()
	if int64(now) != l.lastMs {
		l.lastMs = int64(now)
		l.sequence = 0
	} else {
		l.sequence++
	}
	return bpv7.NewCreationTimestamp(now, l.sequence)
}

// StartTransmission builds a new bundle carrying payload, addressed to
// destinationURI, with the given lifetime in milliseconds, and queues it on
// the BPA's local_bundle_dispatch_queue for reception processing on the
// next tick. It returns the new bundle's id.
//
// When anonymous is true, the bundle's source and report-to EndpointIDs are
// the scheme-appropriate null endpoint (dtn:none or ipn:0.0) rather than
// this endpoint's own URI — a SUPPLEMENTED feature, see SPEC_FULL.md §4.
func (l *Local) StartTransmission(payload []byte, destinationURI string, lifetimeMillis uint64, anonymous bool) (string, error) {
	dest, err := bpv7.NewEndpointID(destinationURI)
	if err != nil {
		return "", fmt.Errorf("endpoint: invalid destination URI %q: %w", destinationURI, err)
	}

	source, err := bpv7.NewEndpointID(l.uri)
	if err != nil {
		return "", fmt.Errorf("endpoint: invalid own URI %q: %w", l.uri, err)
	}

	if anonymous {
		if source.EndpointType.SchemeName() == "ipn" {
			source = bpv7.IpnNone()
		} else {
			source = bpv7.DtnNone()
		}
	}

	ts := l.nextTimestamp()

	primary := bpv7.NewPrimaryBlock(bpv7.MustNotFragmented, dest, source, ts, lifetimeMillis)

	payloadBlock := bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock(payload))
	bndl := bpv7.MustNewBundle(primary, []bpv7.CanonicalBlock{payloadBlock})

	bndl.AddExtensionBlock(bpv7.NewCanonicalBlock(0, 0, bpv7.NewHopCountBlock(DefaultHopLimit)))
	if !l.dispatcher.HasAccurateTime() {
		bndl.AddExtensionBlock(bpv7.NewCanonicalBlock(0, 0, bpv7.NewBundleAgeBlock(0)))
	}

	if cErr := bndl.CheckValid(); cErr != nil {
		return "", fmt.Errorf("endpoint: built an invalid bundle: %w", cErr)
	}

	return l.dispatcher.QueueLocalBundle(bndl), nil
}

// BuildURI derives a local endpoint's full URI from the owning node's URI
// and a caller-supplied identifier, per §4.2:
//   - dtn scheme: node_uri + id ("dtn://node/" + "incoming")
//   - ipn scheme: node_uri + "." + id, except an empty id yields the node
//     URI itself unchanged.
func BuildURI(nodeURI, id string) (string, error) {
	switch {
	case strings.HasPrefix(nodeURI, "dtn://"):
		return nodeURI + id, nil
	case strings.HasPrefix(nodeURI, "ipn://"):
		if id == "" {
			return nodeURI, nil
		}
		return nodeURI + "." + id, nil
	default:
		return "", fmt.Errorf("endpoint: %q is not a recognized node URI scheme", nodeURI)
	}
}

// Registry maps full endpoint URIs to the local endpoints registered under
// them. Unicast endpoints hold exactly one registrant; group endpoints
// (whose URI's last segment starts with "~") may hold many.
type Registry struct {
	mu     sync.Mutex
	single map[string]*Local
	groups map[string][]*Local
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		single: make(map[string]*Local),
		groups: make(map[string][]*Local),
	}
}

// Register adds a unicast endpoint at uri. Fails if uri is already
// registered (duplicate unicast registration is rejected, per §3).
func (reg *Registry) Register(dispatcher Dispatcher, uri string, callback func(bpv7.Bundle)) (*Local, error) {
	if !bpv7.IsCorrectEndpointURI(uri) {
		return nil, fmt.Errorf("endpoint: %q is not a valid endpoint URI", uri)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.single[uri]; exists {
		return nil, fmt.Errorf("endpoint: %q is already registered", uri)
	}

	l := &Local{uri: uri, dispatcher: dispatcher, callback: callback}
	reg.single[uri] = l
	return l, nil
}

// RegisterGroup adds another receiver under the group endpoint uri, which
// must match the dtn-scheme group URI form (a trailing "~name" segment).
// Multiple receivers may share one group URI.
func (reg *Registry) RegisterGroup(dispatcher Dispatcher, uri string, callback func(bpv7.Bundle)) (*Local, error) {
	if !bpv7.IsCorrectGroupURI(uri) {
		return nil, fmt.Errorf("endpoint: %q is not a valid group endpoint URI", uri)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	l := &Local{uri: uri, isGroup: true, dispatcher: dispatcher, callback: callback}
	reg.groups[uri] = append(reg.groups[uri], l)
	return l, nil
}

// Unregister removes a previously registered unicast endpoint. Fails if uri
// is not currently registered.
func (reg *Registry) Unregister(uri string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.single[uri]; !ok {
		return fmt.Errorf("endpoint: %q is not registered", uri)
	}
	delete(reg.single, uri)
	return nil
}

// UnregisterGroup removes one receiver l from the group endpoint uri.
func (reg *Registry) UnregisterGroup(uri string, l *Local) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	receivers, ok := reg.groups[uri]
	if !ok {
		return fmt.Errorf("endpoint: group %q is not registered", uri)
	}

	for i, r := range receivers {
		if r == l {
			reg.groups[uri] = append(receivers[:i], receivers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("endpoint: receiver not found in group %q", uri)
}

// HasEndpoint reports whether uri is registered, unicast or group.
func (reg *Registry) HasEndpoint(uri string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.single[uri]; ok {
		return true
	}
	_, ok := reg.groups[uri]
	return ok
}

// Receivers returns every Local registered to receive deliveries for uri:
// the single unicast registrant, or every group member.
func (reg *Registry) Receivers(uri string) []*Local {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if l, ok := reg.single[uri]; ok {
		return []*Local{l}
	}
	return append([]*Local(nil), reg.groups[uri]...)
}
