// Package consul implements the kv.Backend contract over Consul. It is kept
// for existing deployments; new ones should prefer Redis. Consul caps
// transactions at ~64 operations, so large changes are chunked, and a
// failed chunk is rolled back best-effort by reissuing deletes for the
// chunks that already landed.
package consul

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/jupyterhub/traefik-proxy/apierrors"
)

// maxTxnOps is Consul's per-transaction operation cap.
const maxTxnOps = 64

// Config holds the connection parameters for a Consul agent.
type Config struct {
	Address string
	Token   string
}

type Backend struct {
	kv  *api.KV
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Backend, error) {
	client, err := api.NewClient(&api.Config{Address: cfg.Address, Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("consul backend: connect: %w", err)
	}
	return &Backend{kv: client.KV(), log: log}, nil
}

func chunk(ops api.KVTxnOps, size int) []api.KVTxnOps {
	var out []api.KVTxnOps
	for size > 0 && len(ops) > 0 {
		n := size
		if n > len(ops) {
			n = len(ops)
		}
		out = append(out, ops[:n])
		ops = ops[n:]
	}
	return out
}

// runChunked executes ops in chunks of maxTxnOps. If a chunk fails, it
// deletes every key set by the chunks that already succeeded (best-effort:
// rollback failures are aggregated, not silently dropped) and returns a
// PartialWrite error. Keys those chunks deleted are not restored, and keys
// they overwrote are deleted rather than reset to their old values.
func (b *Backend) runChunked(ctx context.Context, op string, ops api.KVTxnOps) error {
	chunks := chunk(ops, maxTxnOps)
	var applied api.KVTxnOps

	for i, c := range chunks {
		_, resp, _, err := b.kv.Txn(c, (&api.QueryOptions{}).WithContext(ctx))
		if err != nil || (resp != nil && len(resp.Errors) > 0) {
			b.log.Warn("consul transaction chunk failed, rolling back prior chunks",
				zap.String("op", op), zap.Int("chunk", i), zap.Error(err))
			rollbackErr := b.rollback(ctx, applied)
			combined := &multierror.Error{}
			if err != nil {
				combined = multierror.Append(combined, err)
			}
			if resp != nil {
				for _, e := range resp.Errors {
					combined = multierror.Append(combined, fmt.Errorf("%s", e.What))
				}
			}
			if rollbackErr != nil {
				combined = multierror.Append(combined, rollbackErr)
			}
			return apierrors.PartialWrite(op, "", combined.ErrorOrNil())
		}
		applied = append(applied, c...)
	}
	return nil
}

// rollback best-effort deletes every key set by previously-applied ops.
func (b *Backend) rollback(ctx context.Context, applied api.KVTxnOps) error {
	if len(applied) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, chunk := range chunk(applied, maxTxnOps) {
		var undo api.KVTxnOps
		for _, o := range chunk {
			if o.Verb == api.KVSet {
				undo = append(undo, &api.KVTxnOp{Verb: api.KVDelete, Key: o.Key})
			}
		}
		if len(undo) == 0 {
			continue
		}
		if _, _, _, err := b.kv.Txn(undo, (&api.QueryOptions{}).WithContext(ctx)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (b *Backend) AtomicSet(ctx context.Context, toSet map[string]string) error {
	if len(toSet) == 0 {
		return nil
	}
	ops := make(api.KVTxnOps, 0, len(toSet))
	for k, v := range toSet {
		ops = append(ops, &api.KVTxnOp{Verb: api.KVSet, Key: k, Value: []byte(v)})
	}
	return b.runChunked(ctx, "atomic_set", ops)
}

func (b *Backend) AtomicDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ops := make(api.KVTxnOps, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, "/") {
			ops = append(ops, &api.KVTxnOp{Verb: api.KVDeleteTree, Key: k})
		} else {
			ops = append(ops, &api.KVTxnOp{Verb: api.KVDelete, Key: k})
		}
	}
	return b.runChunked(ctx, "atomic_delete", ops)
}

func (b *Backend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	pairs, _, err := b.kv.List(prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul list %s: %w", prefix, err)
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Key] = string(p.Value)
	}
	return out, nil
}

func (b *Backend) Close() error {
	return nil
}
