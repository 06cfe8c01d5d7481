// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package etcd implements kv.Store on etcd, the replicated backend that lets
// several fanout processes share subscription and deduplication state.
package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fanout/kv"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

const expireAttempts = 3

var _ kv.Store = (*Store)(nil)

// Store implements kv.Store using etcd transactions. Revisions are etcd
// ModRevisions and expiry is implemented with leases.
type Store struct {
	client *clientv3.Client
	prefix string

	// Set when the store owns an embedded server.
	server *embed.Etcd
}

// ClientConfig holds etcd client settings.
type ClientConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string // Prepended to every key
}

// New wraps an existing etcd client. The caller keeps ownership of client.
func New(client *clientv3.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Dial connects to an external etcd cluster.
func Dial(cfg ClientConfig) (*Store, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &Store{client: client, prefix: cfg.Prefix}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*kv.Entry, error) {
	resp, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, kv.ErrNotFound
	}

	item := resp.Kvs[0]
	return &kv.Entry{Key: key, Value: item.Value, Revision: item.ModRevision}, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, rev int64, value []byte) error {
	k := s.prefix + key

	var (
		cmp clientv3.Cmp
		put clientv3.Op
	)
	if rev == 0 {
		cmp = clientv3.Compare(clientv3.CreateRevision(k), "=", 0)
		put = clientv3.OpPut(k, string(value))
	} else {
		cmp = clientv3.Compare(clientv3.ModRevision(k), "=", rev)
		put = clientv3.OpPut(k, string(value), clientv3.WithIgnoreLease())
	}

	resp, err := s.client.Txn(ctx).If(cmp).Then(put).Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return kv.ErrConflict
	}

	return nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k := s.prefix + key

	var opts []clientv3.OpOption
	var leaseID clientv3.LeaseID
	if ttl > 0 {
		lease, err := s.client.Grant(ctx, ttlSeconds(ttl))
		if err != nil {
			return false, fmt.Errorf("failed to grant lease: %w", err)
		}
		leaseID = lease.ID
		opts = append(opts, clientv3.WithLease(leaseID))
	}

	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, string(value), opts...)).
		Commit()
	if err != nil {
		s.revoke(leaseID)
		return false, err
	}
	if !resp.Succeeded {
		s.revoke(leaseID)
		return false, nil
	}

	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := s.client.Delete(ctx, s.prefix+key)
	if err != nil {
		return false, err
	}
	return resp.Deleted > 0, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	k := s.prefix + key

	for range expireAttempts {
		resp, err := s.client.Get(ctx, k)
		if err != nil {
			return false, err
		}
		if len(resp.Kvs) == 0 {
			return false, nil
		}
		current := resp.Kvs[0]

		var opts []clientv3.OpOption
		var leaseID clientv3.LeaseID
		if ttl > 0 {
			lease, err := s.client.Grant(ctx, ttlSeconds(ttl))
			if err != nil {
				return false, fmt.Errorf("failed to grant lease: %w", err)
			}
			leaseID = lease.ID
			opts = append(opts, clientv3.WithLease(leaseID))
		}

		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(k), "=", current.ModRevision)).
			Then(clientv3.OpPut(k, string(current.Value), opts...)).
			Commit()
		if err != nil {
			s.revoke(leaseID)
			return false, err
		}
		if txn.Succeeded {
			return true, nil
		}
		s.revoke(leaseID)
	}

	return false, kv.ErrConflict
}

// Close closes the client and, for embedded deployments, the etcd server.
func (s *Store) Close() error {
	err := s.client.Close()
	if s.server != nil {
		s.server.Close()
	}
	return err
}

func (s *Store) revoke(id clientv3.LeaseID) {
	if id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = s.client.Revoke(ctx, id)
}

// ttlSeconds rounds ttl up to etcd's one second lease granularity.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
