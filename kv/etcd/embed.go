// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// EmbeddedConfig holds embedded etcd configuration.
type EmbeddedConfig struct {
	Name           string
	DataDir        string
	BindAddr       string // Peer address (e.g., "0.0.0.0:2380")
	ClientAddr     string // Client address (e.g., "0.0.0.0:2379")
	AdvertiseAddr  string
	InitialCluster string // "node1=http://host1:2380,node2=http://host2:2380"
	Bootstrap      bool   // true only for first node
	Prefix         string
	StartTimeout   time.Duration
}

// StartEmbedded starts an etcd member inside this process and returns a
// Store connected to it. Closing the Store stops the member.
func StartEmbedded(cfg EmbeddedConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 60 * time.Second
	}

	eCfg := embed.NewConfig()
	eCfg.Name = cfg.Name
	eCfg.Dir = cfg.DataDir

	peerURL, err := url.Parse("http://" + cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid bind address: %w", err)
	}
	eCfg.ListenPeerUrls = []url.URL{*peerURL}

	if cfg.AdvertiseAddr != "" {
		advertiseURL, err := url.Parse("http://" + cfg.AdvertiseAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid advertise address: %w", err)
		}
		eCfg.AdvertisePeerUrls = []url.URL{*advertiseURL}
	} else {
		eCfg.AdvertisePeerUrls = []url.URL{*peerURL}
	}

	clientURL, err := url.Parse("http://" + cfg.ClientAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid client address: %w", err)
	}
	eCfg.ListenClientUrls = []url.URL{*clientURL}
	eCfg.AdvertiseClientUrls = []url.URL{*clientURL}

	if cfg.InitialCluster != "" {
		eCfg.InitialCluster = cfg.InitialCluster
	} else {
		eCfg.InitialCluster = eCfg.InitialClusterFromName(cfg.Name)
	}
	if cfg.Bootstrap {
		eCfg.ClusterState = embed.ClusterStateFlagNew
	} else {
		eCfg.ClusterState = embed.ClusterStateFlagExisting
	}

	eCfg.Logger = "zap"
	eCfg.LogLevel = "error"

	e, err := embed.StartEtcd(eCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start etcd: %w", err)
	}

	select {
	case <-e.Server.ReadyNotify():
		logger.Info("etcd_server_ready", slog.String("name", cfg.Name), slog.String("client_addr", cfg.ClientAddr))
	case <-time.After(cfg.StartTimeout):
		e.Server.Stop()
		e.Close()
		return nil, fmt.Errorf("etcd server took too long to start")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.ClientAddr},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &Store{client: client, prefix: cfg.Prefix, server: e}, nil
}
