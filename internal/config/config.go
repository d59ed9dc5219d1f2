// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config parses the single TOML configuration file a dtn-agent node
// is started from, following the teacher's cmd/dtnd/configuration.go shape:
// one struct-of-structs, no environment variables, per spec §6.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root of the TOML configuration file.
type Config struct {
	Core      CoreConf
	Logging   LoggingConf
	Discovery DiscoveryConf
	Store     StoreConf
	MTCP      MTCPConf
	Routing   RoutingConf
	Ports     PortsConf
	Listen    []ListenConf
}

// CoreConf names this node.
type CoreConf struct {
	// NodeURI is this node's own full URI, e.g. "dtn://n1/" or "ipn://23".
	NodeURI string `toml:"node-uri"`
}

// LoggingConf mirrors the teacher's logConf block.
type LoggingConf struct {
	Level        string `toml:"level"`
	Format       string `toml:"format"`
	ReportCaller bool   `toml:"report-caller"`
}

// DiscoveryConf tunes IPND.
type DiscoveryConf struct {
	Enabled        bool     `toml:"enabled"`
	SendIntervalMs int64    `toml:"send-interval-ms"`
	BeaconMaxSize  int      `toml:"beacon-max-size"`
	Broadcasts     []string `toml:"broadcasts"`
}

// StoreConf bounds the in-memory store.
type StoreConf struct {
	MaxStoredBundles  int `toml:"max-stored-bundles"`
	MaxKnownBundleIDs int `toml:"max-known-bundle-ids"`
}

// MTCPConf bounds the MTCP CLA's connection handling.
type MTCPConf struct {
	MaxWaitingAccept         int   `toml:"max-waiting-accept"`
	MaxOpenReceive           int   `toml:"max-open-receive"`
	InactiveReceiveTimeoutMs int64 `toml:"inactive-receive-timeout-ms"`
	StalledSendTimeoutMs     int64 `toml:"stalled-send-timeout-ms"`
}

// RoutingConf tunes the epidemic router.
type RoutingConf struct {
	AttachPreviousNodeBlock bool `toml:"attach-previous-node-block"`
	MinNodesToForward       int  `toml:"min-nodes-to-forward"`
}

// PortsConf is the default port table, per spec §6.
type PortsConf struct {
	BeaconUDP int `toml:"beacon-udp"`
	REST      int `toml:"rest"`
	MTCP      int `toml:"mtcp"`
	IPND      int `toml:"ipnd"`
}

// ListenConf configures one convergence-layer adapter to bring up.
type ListenConf struct {
	Protocol string `toml:"protocol"`
	Addr     string `toml:"addr"`
	// Device is the serial device path, only used by the "radio" protocol.
	Device string `toml:"device"`
	// Peer and PeerPort configure the "udpbcast" broadcast destination.
	Peer     string `toml:"peer"`
	PeerPort int    `toml:"peer-port"`
}

// DefaultPorts returns spec §6's default port table.
func DefaultPorts() PortsConf {
	return PortsConf{BeaconUDP: 7000, REST: 3000, MTCP: 16162, IPND: 3003}
}

// Parse reads and validates the TOML configuration file at path.
func Parse(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}

	if cfg.Core.NodeURI == "" {
		return nil, fmt.Errorf("config: core.node-uri is required")
	}

	if cfg.Ports == (PortsConf{}) {
		cfg.Ports = DefaultPorts()
	}
	if cfg.Store.MaxStoredBundles <= 0 {
		cfg.Store.MaxStoredBundles = 1000
	}
	if cfg.Store.MaxKnownBundleIDs <= 0 {
		cfg.Store.MaxKnownBundleIDs = 10000
	}
	if cfg.Routing.MinNodesToForward <= 0 {
		cfg.Routing.MinNodesToForward = 1
	}
	if cfg.Discovery.SendIntervalMs <= 0 {
		cfg.Discovery.SendIntervalMs = 10000
	}
	if cfg.MTCP.InactiveReceiveTimeoutMs <= 0 {
		cfg.MTCP.InactiveReceiveTimeoutMs = 2 * 60 * 1000
	}
	if cfg.MTCP.StalledSendTimeoutMs <= 0 {
		cfg.MTCP.StalledSendTimeoutMs = 10000
	}
	if cfg.MTCP.MaxWaitingAccept <= 0 {
		cfg.MTCP.MaxWaitingAccept = 8
	}
	if cfg.MTCP.MaxOpenReceive <= 0 {
		cfg.MTCP.MaxOpenReceive = 8
	}

	return &cfg, nil
}

// DiscoverySendInterval returns the configured IPND send interval as a
// time.Duration.
func (c *Config) DiscoverySendInterval() time.Duration {
	return time.Duration(c.Discovery.SendIntervalMs) * time.Millisecond
}

// MTCPInactiveReceiveTimeout returns the configured timeout as a
// time.Duration.
func (c *Config) MTCPInactiveReceiveTimeout() time.Duration {
	return time.Duration(c.MTCP.InactiveReceiveTimeoutMs) * time.Millisecond
}

// MTCPStalledSendTimeout returns the configured timeout as a time.Duration.
func (c *Config) MTCPStalledSendTimeout() time.Duration {
	return time.Duration(c.MTCP.StalledSendTimeoutMs) * time.Millisecond
}
