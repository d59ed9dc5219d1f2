// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mtcp

import (
	"net"
	"sync"
	"time"
)

// connTable bounds the number of simultaneously open-receive connections,
// per spec §4.4/§5's MTCP_MAX_OPEN_RECEIVE cap. When full, the oldest
// connection is gracefully closed to make room for a new one rather than
// refusing the new accept outright.
type connTable struct {
	mu      sync.Mutex
	max     int
	opened  map[net.Conn]time.Time
}

func newConnTable(max int) *connTable {
	return &connTable{max: max, opened: make(map[net.Conn]time.Time)}
}

// admit registers conn as open-receive, evicting the oldest connection if
// the table is already at capacity. Returns false only if max <= 0.
func (t *connTable) admit(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.max <= 0 {
		return false
	}

	if len(t.opened) >= t.max {
		var oldest net.Conn
		var oldestAt time.Time
		first := true
		for c, at := range t.opened {
			if first || at.Before(oldestAt) {
				oldest, oldestAt, first = c, at, false
			}
		}
		if oldest != nil {
			delete(t.opened, oldest)
			_ = closeGracefully(oldest)
		}
	}

	t.opened[conn] = time.Now()
	return true
}

func (t *connTable) remove(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.opened, conn)
}

func (t *connTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.opened {
		_ = closeGracefully(c)
	}
	t.opened = make(map[net.Conn]time.Time)
}

// closeGracefully half-closes conn's read side where the platform supports
// it (draining any in-flight bytes is the handleConn goroutine's job, since
// it owns the read loop); otherwise it falls back to a hard close.
func closeGracefully(conn net.Conn) error {
	type halfCloser interface {
		CloseRead() error
	}
	if hc, ok := conn.(halfCloser); ok {
		return hc.CloseRead()
	}
	return conn.Close()
}
