// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udpbcast

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/dtn7/dtn7-agent/bpv7"
)

func testBundle(t *testing.T) bpv7.Bundle {
	t.Helper()

	primary := bpv7.NewPrimaryBlock(
		bpv7.MustNotFragmented,
		bpv7.MustNewEndpointID("dtn://dest/"),
		bpv7.MustNewEndpointID("dtn://src/"),
		bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 1),
		60*1000)

	bndl, err := bpv7.NewBundle(primary, []bpv7.CanonicalBlock{
		bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("hi"))),
	})
	if err != nil {
		t.Fatalf("failed to build test bundle: %v", err)
	}
	return bndl
}

func TestUDPBroadcastSendReceive(t *testing.T) {
	receiver, err := Listen("127.0.0.1:0", "127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("Listen receiver: %v", err)
	}
	defer receiver.Close()

	sender, err := Listen("127.0.0.1:0", "127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("Listen sender: %v", err)
	}
	defer sender.Close()
	sender.broadcastAddr = "127.0.0.1:" + strconv.Itoa(receiver.port)

	bndl := testBundle(t)
	buf := new(bytes.Buffer)
	if err := bndl.WriteBundle(buf); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}

	if !sender.SendTo(nil, buf.Bytes()) {
		t.Fatal("SendTo reported failure")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recv, _, err := receiver.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if recv != nil {
			if recv.ID() != bndl.ID() {
				t.Fatalf("got %v, want %v", recv.ID(), bndl.ID())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for broadcast bundle")
}

func TestUDPBroadcastRejectsOversizedPayload(t *testing.T) {
	c, err := Listen("127.0.0.1:0", "127.0.0.1:0", 8)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer c.Close()

	if c.SendTo(nil, make([]byte, 16)) {
		t.Error("SendTo must refuse a payload exceeding the configured MTU")
	}
}
