// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package mtcp

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// On Linux, the sender's TCP connection gets a handful of socket options for
// faster detection of a dropped link, per the teacher's dial_linux.go: a
// mobile node moving out of range shouldn't sit on a half-dead connection
// until the OS default timeout.
func dialControl(_, _ string, rawConn syscall.RawConn) (err error) {
	const (
		keepCnt     = 1
		keepIdle    = 5
		keepIntvl   = 3
		userTimeout = 2000
	)

	opts := map[int]int{
		unix.TCP_KEEPCNT:      keepCnt,
		unix.TCP_KEEPIDLE:     keepIdle,
		unix.TCP_KEEPINTVL:    keepIntvl,
		unix.TCP_USER_TIMEOUT: userTimeout,
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		for opt, value := range opts {
			if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return err
}

func dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: dialControl,
	}
	return dialer.Dial("tcp", address)
}
