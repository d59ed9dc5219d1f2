// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package radio implements the radio broadcast convergence-layer adapter: a
// shared-medium CLA over a LoRa modem, framing each bundle behind the
// 4-byte transport header (destination, source, id, flags) compatible with
// the rf95modem link, per spec §4.4/§6.
package radio

import (
	"bytes"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rf95modem-go/rf95"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
)

const identifier cla.Identifier = "radio"

// header is the 4-byte transport prefix this adapter prepends to every
// CBOR-encoded bundle: destination, source, id, flags. All-broadcast
// addressing (0xFF) is the only mode the epidemic router needs, since
// there's no per-node routing on a shared medium.
type header [4]byte

var broadcastHeader = header{0xFF, 0xFF, 0x00, 0x00}

// CLA is the push-based radio broadcast adapter.
type CLA struct {
	modem *rf95.Modem

	incoming chan []byte
	stop     chan struct{}
}

// Open connects to a rf95modem-compatible LoRa modem over the given serial
// device (e.g. "/dev/ttyUSB0").
func Open(device string) (*CLA, error) {
	m, err := rf95.OpenModem(device)
	if err != nil {
		return nil, err
	}

	c := &CLA{
		modem:    m,
		incoming: make(chan []byte, 4),
		stop:     make(chan struct{}),
	}
	go c.receiveLoop()

	return c, nil
}

// Identifier returns "radio".
func (c *CLA) Identifier() cla.Identifier { return identifier }

// IsBroadcast is always true for the radio CLA: LoRa here is a shared,
// unidirectional broadcast medium.
func (c *CLA) IsBroadcast() bool { return true }

// Port is always 0; the radio CLA has no IP-level listen port to advertise.
func (c *CLA) Port() int { return 0 }

// Close releases the modem's serial connection.
func (c *CLA) Close() error {
	close(c.stop)
	return c.modem.Close()
}

func (c *CLA) receiveLoop() {
	mtu, _ := c.modem.Mtu()
	if mtu <= 0 {
		mtu = 250
	}

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		buf := make([]byte, mtu)
		n, err := c.modem.Read(buf)
		if err != nil {
			continue
		}
		if n < len(broadcastHeader) {
			log.WithField("cla", "radio").Warn("radio: frame shorter than the transport header, dropping")
			continue
		}

		select {
		case c.incoming <- buf[:n]:
		case <-c.stop:
			return
		}
	}
}

// Poll drains at most one arrived bundle, non-blocking, stripping the
// 4-byte transport header.
func (c *CLA) Poll() (*bpv7.Bundle, net.IP, error) {
	select {
	case frame := <-c.incoming:
		bndl, err := bpv7.ParseBundle(bytes.NewReader(frame[len(broadcastHeader):]))
		if err != nil {
			log.WithFields(log.Fields{"cla": "radio", "error": err}).Warn("radio: malformed bundle, dropping")
			return nil, nil, nil
		}
		return &bndl, nil, nil
	default:
		return nil, nil, nil
	}
}

// SendTo prepends the broadcast transport header and writes the frame to
// the modem; node is ignored, matching the CLA's broadcast nature.
func (c *CLA) SendTo(_ *cla.Node, data []byte) bool {
	frame := append(append([]byte{}, broadcastHeader[:]...), data...)
	_, err := c.modem.Write(frame)
	return err == nil
}
