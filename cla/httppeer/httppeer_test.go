// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package httppeer

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
)

type fakeStore struct {
	mu      sync.Mutex
	bundles map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{bundles: make(map[string][]byte)}
}

func (s *fakeStore) put(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[id] = data
}

func (s *fakeStore) KnownBundleIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.bundles))
	for id := range s.bundles {
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeStore) LoadBundle(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.bundles[id]
	return data, ok
}

func testBundle(t *testing.T) bpv7.Bundle {
	t.Helper()
	primary := bpv7.NewPrimaryBlock(
		bpv7.MustNotFragmented,
		bpv7.MustNewEndpointID("dtn://dest/"),
		bpv7.MustNewEndpointID("dtn://src/"),
		bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 7),
		60*1000)

	bndl, err := bpv7.NewBundle(primary, []bpv7.CanonicalBlock{
		bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("hi"))),
	})
	if err != nil {
		t.Fatalf("failed to build test bundle: %v", err)
	}
	return bndl
}

func TestHTTPPeerPollAndDownload(t *testing.T) {
	st := newFakeStore()
	bndl := testBundle(t)
	buf := new(bytes.Buffer)
	if err := bndl.WriteBundle(buf); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}
	st.put(bndl.ID().String(), buf.Bytes())

	server, err := Serve("localhost:0", st)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer server.Close()

	client, err := Serve("localhost:0", newFakeStore())
	if err != nil {
		t.Fatalf("Serve client: %v", err)
	}
	defer client.Close()

	node := &cla.Node{Addr: net.ParseIP("127.0.0.1"), Port: server.Port()}

	ids, err := client.PollIDs(node)
	if err != nil {
		t.Fatalf("PollIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != bndl.ID().String() {
		t.Fatalf("PollIDs = %v, want [%s]", ids, bndl.ID())
	}

	got, from, err := client.Poll(ids[0], node)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.ID() != bndl.ID() {
		t.Fatalf("got %v, want %v", got.ID(), bndl.ID())
	}
	if !from.Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("unexpected from address %v", from)
	}
}

func TestHTTPPeerPushIsDrained(t *testing.T) {
	server, err := Serve("localhost:0", newFakeStore())
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer server.Close()

	sender, err := Serve("localhost:0", newFakeStore())
	if err != nil {
		t.Fatalf("Serve sender: %v", err)
	}
	defer sender.Close()

	bndl := testBundle(t)
	buf := new(bytes.Buffer)
	if err := bndl.WriteBundle(buf); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}

	node := &cla.Node{Addr: net.ParseIP("127.0.0.1"), Port: server.Port()}
	if !sender.SendTo(node, buf.Bytes()) {
		t.Fatal("SendTo reported failure")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recv, _ := server.DrainPushed(); recv != nil {
			if recv.ID() != bndl.ID() {
				t.Fatalf("got %v, want %v", recv.ID(), bndl.ID())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for pushed bundle to be drained")
}

func TestHTTPPeerDownloadMissing(t *testing.T) {
	server, err := Serve("localhost:0", newFakeStore())
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer server.Close()

	client, err := Serve("localhost:0", newFakeStore())
	if err != nil {
		t.Fatalf("Serve client: %v", err)
	}
	defer client.Close()

	node := &cla.Node{Addr: net.ParseIP("127.0.0.1"), Port: server.Port()}
	if _, _, err := client.Poll("nonexistent-"+strconv.Itoa(server.Port()), node); err == nil {
		t.Error("Poll for a missing bundle should fail")
	}
}
