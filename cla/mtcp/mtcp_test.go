// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mtcp

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
)

func testBundle(t *testing.T) bpv7.Bundle {
	t.Helper()

	primary := bpv7.NewPrimaryBlock(
		bpv7.MustNotFragmented,
		bpv7.MustNewEndpointID("dtn://dest/"),
		bpv7.MustNewEndpointID("dtn://src/"),
		bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 23),
		60*1000)

	bndl, err := bpv7.NewBundle(primary, []bpv7.CanonicalBlock{
		bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("hello world!"))),
	})
	if err != nil {
		t.Fatalf("failed to build test bundle: %v", err)
	}
	return bndl
}

func TestMTCPSendReceive(t *testing.T) {
	server, err := Listen("localhost:0", DefaultConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	bndl := testBundle(t)

	data, err := encode(t, bndl)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	node := &cla.Node{Addr: net.ParseIP("127.0.0.1"), Port: server.Port()}
	if !server.SendTo(node, data) {
		t.Fatalf("SendTo reported failure")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recv, from, err := server.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if recv != nil {
			if recv.ID() != bndl.ID() {
				t.Fatalf("got bundle id %v, want %v", recv.ID(), bndl.ID())
			}
			if from == nil || !from.IsLoopback() {
				t.Fatalf("unexpected sender address %v", from)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the bundle to arrive")
}

func TestMTCPIdentifierAndBroadcast(t *testing.T) {
	server, err := Listen("localhost:0", DefaultConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	if server.Identifier() != "mtcp" {
		t.Errorf("Identifier() = %q, want \"mtcp\"", server.Identifier())
	}
	if server.IsBroadcast() {
		t.Error("mtcp must not be broadcast")
	}
	if server.SendTo(nil, []byte("x")) {
		t.Error("SendTo(nil, ...) must fail: mtcp has no broadcast mode")
	}
}

func encode(t *testing.T, bndl bpv7.Bundle) ([]byte, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := bndl.WriteBundle(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
