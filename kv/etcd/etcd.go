// Package etcd implements the kv.Backend contract over etcd v3, using a
// single transaction for atomic multi-key set/delete and a prefix range
// read for GetTree.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Config holds the connection parameters for an etcd cluster.
type Config struct {
	Endpoints []string
	Username  string
	Password  string
}

type Backend struct {
	client *clientv3.Client
	log    *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Backend, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd backend: connect: %w", err)
	}
	return &Backend{client: client, log: log}, nil
}

// AtomicSet issues every Put inside one etcd transaction: either all keys
// land, or none do.
func (b *Backend) AtomicSet(ctx context.Context, toSet map[string]string) error {
	if len(toSet) == 0 {
		return nil
	}
	ops := make([]clientv3.Op, 0, len(toSet))
	for k, v := range toSet {
		ops = append(ops, clientv3.OpPut(k, v))
	}
	resp, err := b.client.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return fmt.Errorf("etcd txn set: %w", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("etcd txn set: not committed")
	}
	return nil
}

func (b *Backend) AtomicDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ops := make([]clientv3.Op, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, "/") {
			ops = append(ops, clientv3.OpDelete(k, clientv3.WithPrefix()))
		} else {
			ops = append(ops, clientv3.OpDelete(k))
		}
	}
	resp, err := b.client.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return fmt.Errorf("etcd txn delete: %w", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("etcd txn delete: not committed")
	}
	return nil
}

func (b *Backend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := b.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd range get %s: %w", prefix, err)
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out, nil
}

// Watch satisfies kv.Watcher using etcd's native watch API.
func (b *Backend) Watch(ctx context.Context, prefix string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	watchCh := b.client.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		defer close(ch)
		for range watchCh {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
