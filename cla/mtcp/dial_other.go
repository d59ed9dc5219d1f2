// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package mtcp

import (
	"net"
	"time"
)

func dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 5 * time.Second,
	}
	return dialer.Dial("tcp", address)
}
