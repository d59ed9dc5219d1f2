// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Command dtn-agent boots a Bundle Protocol Agent node from a TOML
// configuration file, wiring the store, epidemic router, IPND discovery
// and whichever convergence-layer adapters the configuration names,
// following the teacher's cmd/dtnd entry point shape.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-agent/bpa"
	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/cla"
	"github.com/dtn7/dtn7-agent/cla/httppeer"
	"github.com/dtn7/dtn7-agent/cla/mtcp"
	"github.com/dtn7/dtn7-agent/cla/radio"
	"github.com/dtn7/dtn7-agent/cla/udpbcast"
	"github.com/dtn7/dtn7-agent/discovery"
	"github.com/dtn7/dtn7-agent/internal/config"
	"github.com/dtn7/dtn7-agent/router"
	"github.com/dtn7/dtn7-agent/store"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <configuration.toml>\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Parse(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	agent, err := boot(cfg)
	if err != nil {
		log.WithField("error", err).Fatal("dtn-agent: failed to start")
	}

	log.WithField("node", cfg.Core.NodeURI).Info("dtn-agent: running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	agent.StopBackground()
	log.Info("dtn-agent: shut down")
}

// setupLogging configures logrus from the configuration file, mirroring the
// teacher's cmd/dtnd/configuration.go logging block.
func setupLogging(lc config.LoggingConf) {
	if lc.Level != "" {
		if lvl, err := log.ParseLevel(lc.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    lc.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("dtn-agent: failed to set log level")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(lc.ReportCaller)

	switch lc.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		log.WithField("format", lc.Format).Warn("dtn-agent: unknown logging format")
	}
}

// boot assembles the store, router, discovery manager and every configured
// CLA into a running BPA, starting its background update loop.
func boot(cfg *config.Config) (*bpa.BPA, error) {
	nodeEID, err := bpv7.NewEndpointID(cfg.Core.NodeURI)
	if err != nil {
		return nil, fmt.Errorf("core.node-uri: %w", err)
	}

	st := store.New(cfg.Store.MaxStoredBundles, cfg.Store.MaxKnownBundleIDs)

	rtr := router.NewEpidemic(nodeEID, st, router.Config{
		AttachPreviousNodeBlock: cfg.Routing.AttachPreviousNodeBlock,
		MinNodesToForward:       cfg.Routing.MinNodesToForward,
	})

	services, clas, err := bootCLAs(cfg, rtr, st)
	if err != nil {
		return nil, err
	}

	var discoveryMgr *discovery.Manager
	if cfg.Discovery.Enabled {
		discoveryMgr, err = discovery.Listen(
			fmt.Sprintf(":%d", cfg.Ports.IPND),
			nodeEID,
			services,
			st,
			discovery.Config{
				SendInterval:  cfg.DiscoverySendInterval(),
				BeaconMaxSize: cfg.Discovery.BeaconMaxSize,
				Broadcasts:    cfg.Discovery.Broadcasts,
			})
		if err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
	}

	agent, err := bpa.New(bpa.Config{
		NodeURI:   cfg.Core.NodeURI,
		Store:     st,
		Router:    rtr,
		Discovery: discoveryMgr,
	})
	if err != nil {
		return nil, err
	}

	for _, c := range clas {
		agent.AddCLA(c)
	}

	agent.RunBackground(50 * time.Millisecond)

	return agent, nil
}

// bootCLAs starts every convergence-layer adapter named in cfg.Listen,
// returning the service map (CLA identifier -> port) IPND advertises for
// this node alongside the started adapters.
func bootCLAs(cfg *config.Config, rtr *router.Epidemic, st *store.Store) (map[string]uint16, []cla.CLA, error) {
	services := make(map[string]uint16)
	var clas []cla.CLA

	for _, l := range cfg.Listen {
		switch l.Protocol {
		case "mtcp":
			addr := l.Addr
			if addr == "" {
				addr = fmt.Sprintf(":%d", cfg.Ports.MTCP)
			}
			c, err := mtcp.Listen(addr, mtcp.Config{
				MaxWaitingAccept:       cfg.MTCP.MaxWaitingAccept,
				MaxOpenReceive:         cfg.MTCP.MaxOpenReceive,
				InactiveReceiveTimeout: cfg.MTCPInactiveReceiveTimeout(),
				StalledSendTimeout:     cfg.MTCPStalledSendTimeout(),
			})
			if err != nil {
				return nil, nil, fmt.Errorf("mtcp listen %q: %w", addr, err)
			}
			clas = append(clas, c)
			services[string(c.Identifier())] = uint16(c.Port())

		case "udpbcast":
			broadcastAddr := fmt.Sprintf("%s:%d", l.Peer, l.PeerPort)
			c, err := udpbcast.Listen(l.Addr, broadcastAddr, udpbcast.DefaultMTU)
			if err != nil {
				return nil, nil, fmt.Errorf("udpbcast listen %q: %w", l.Addr, err)
			}
			clas = append(clas, c)
			services[string(c.Identifier())] = uint16(c.Port())

		case "radio":
			c, err := radio.Open(l.Device)
			if err != nil {
				return nil, nil, fmt.Errorf("radio open %q: %w", l.Device, err)
			}
			clas = append(clas, c)

		case "httppeer":
			addr := l.Addr
			if addr == "" {
				addr = fmt.Sprintf(":%d", cfg.Ports.REST)
			}
			c, err := httppeer.Serve(addr, &httpPeerStore{st: st})
			if err != nil {
				return nil, nil, fmt.Errorf("httppeer serve %q: %w", addr, err)
			}
			clas = append(clas, c)
			services[string(c.Identifier())] = uint16(c.Port())

		default:
			return nil, nil, fmt.Errorf("unknown listen.protocol %q", l.Protocol)
		}
	}

	return services, clas, nil
}
