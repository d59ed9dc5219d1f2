// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package httppeer implements the HTTP peer convergence-layer adapter: a
// pull-based CLA interoperating with a remote node exposing a small
// bundle-index HTTP API, per spec §4.4/§6.
package httppeer

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
)

const identifier cla.Identifier = "httppeer"

// Store is the minimal bundle-index this CLA's server side exposes: the
// list of bundle ids we hold, and the bytes for one of them. The BPA wires
// its own store through a thin adapter satisfying this.
type Store interface {
	KnownBundleIDs() []string
	LoadBundle(id string) ([]byte, bool)
}

// pushed is one bundle accepted over POST /push, buffered for the router
// to drain on a later tick.
type pushed struct {
	bndl *bpv7.Bundle
	from net.IP
}

// CLA is the pull-based HTTP peer adapter. It additionally satisfies
// cla.PushDrain: bundles POSTed to /push arrive on the HTTP server's own
// goroutine and are buffered rather than injected directly, so they are
// only ever handed to the BPA from the single update-tick goroutine.
type CLA struct {
	store  Store
	port   int
	server *http.Server

	mu      sync.Mutex
	clients map[string]*http.Client

	pushedCh chan pushed
}

// Serve starts the HTTP server side of this adapter on addr (":3000") and
// returns the adapter, which also acts as the client side for other peers.
func Serve(addr string, store Store) (*CLA, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	c := &CLA{
		store:    store,
		clients:  make(map[string]*http.Client),
		pushedCh: make(chan pushed, 16),
	}

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	fmt.Sscanf(portStr, "%d", &c.port)

	router := mux.NewRouter()
	router.HandleFunc("/bundles", c.handleBundles).Methods(http.MethodGet)
	router.HandleFunc("/download", c.handleDownload).Methods(http.MethodGet)
	router.HandleFunc("/push", c.handlePush).Methods(http.MethodPost)

	c.server = &http.Server{Handler: router}
	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithFields(log.Fields{"cla": "httppeer", "error": err}).Warn("httppeer: server stopped")
		}
	}()

	return c, nil
}

// Identifier returns "httppeer".
func (c *CLA) Identifier() cla.Identifier { return identifier }

// IsBroadcast is always false: HTTP peer is addressed per-node.
func (c *CLA) IsBroadcast() bool { return false }

// Port returns the bound listen port.
func (c *CLA) Port() int { return c.port }

// Close shuts down the HTTP server.
func (c *CLA) Close() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *CLA) handleBundles(w http.ResponseWriter, _ *http.Request) {
	ids := c.store.KnownBundleIDs()
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
}

func (c *CLA) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("bundle_id")
	data, ok := c.store.LoadBundle(id)
	if !ok {
		fmt.Fprint(w, "Bundle not found")
		return
	}
	_, _ = w.Write(data)
}

func (c *CLA) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	bndl, err := bpv7.ParseBundle(bytes.NewReader(data))
	if err != nil {
		log.WithFields(log.Fields{"cla": "httppeer", "error": err}).Warn("httppeer: rejecting malformed pushed bundle")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	select {
	case c.pushedCh <- pushed{bndl: &bndl, from: net.ParseIP(host)}:
		w.WriteHeader(http.StatusOK)
	default:
		log.WithField("cla", "httppeer").Warn("httppeer: push buffer full, dropping")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// DrainPushed implements cla.PushDrain, returning one buffered /push
// arrival per call, non-blocking.
func (c *CLA) DrainPushed() (*bpv7.Bundle, net.IP) {
	select {
	case p := <-c.pushedCh:
		return p.bndl, p.from
	default:
		return nil, nil
	}
}

func (c *CLA) clientFor(node *cla.Node) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := node.String()
	if client, ok := c.clients[key]; ok {
		return client
	}
	client := &http.Client{}
	c.clients[key] = client
	return client
}

func (c *CLA) dropClient(node *cla.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, node.String())
}

func (c *CLA) baseURL(node *cla.Node) string {
	return fmt.Sprintf("http://%s:%d", node.Addr.String(), node.Port)
}

// PollIDs fetches the peer's known bundle-id list; on any network error the
// client for this node is dropped so the next discovery cycle re-adds it.
func (c *CLA) PollIDs(node *cla.Node) ([]string, error) {
	client := c.clientFor(node)

	resp, err := client.Get(c.baseURL(node) + "/bundles")
	if err != nil {
		c.dropClient(node)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.dropClient(node)
		return nil, err
	}

	var ids []string
	for _, line := range bytesSplitLines(data) {
		if len(line) > 0 {
			ids = append(ids, string(line))
		}
	}
	return ids, nil
}

// Poll downloads a specific bundle by id from node.
func (c *CLA) Poll(id string, node *cla.Node) (*bpv7.Bundle, net.IP, error) {
	client := c.clientFor(node)

	resp, err := client.Get(fmt.Sprintf("%s/download?bundle_id=%s", c.baseURL(node), id))
	if err != nil {
		c.dropClient(node)
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if string(data) == "Bundle not found" {
		return nil, nil, fmt.Errorf("httppeer: %s has no bundle %s", node, id)
	}

	bndl, err := bpv7.ParseBundle(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	return &bndl, node.Addr, nil
}

// SendTo POSTs the serialized bundle to node's /push endpoint.
func (c *CLA) SendTo(node *cla.Node, data []byte) bool {
	client := c.clientFor(node)

	resp, err := client.Post(c.baseURL(node)+"/push", "application/cbor", bytes.NewReader(data))
	if err != nil {
		c.dropClient(node)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func bytesSplitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
