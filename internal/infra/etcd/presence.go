package etcd

import (
	"context"
	"fmt"
	"log/slog"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Presence announces a running worker under WorkerPrefix for as long as its
// lease is kept alive. It is informational: dispatch never depends on it.
type Presence struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
}

func NewPresence(client *clientv3.Client, logger *slog.Logger) *Presence {
	return &Presence{
		client: client,
		logger: logger.With("component", "worker-presence"),
	}
}

// Register publishes workerID with value host under a lease of ttl seconds
// and keeps the lease alive until ctx is cancelled.
func (p *Presence) Register(ctx context.Context, workerID, host string, ttl int64) error {
	p.key = WorkerPrefix + workerID

	leaseResp, err := p.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	p.leaseID = leaseResp.ID

	if _, err := p.client.Put(ctx, p.key, host, clientv3.WithLease(p.leaseID)); err != nil {
		return fmt.Errorf("failed to put worker key: %w", err)
	}

	keepAliveCh, err := p.client.KeepAlive(ctx, p.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for ka := range keepAliveCh {
			p.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		p.logger.Debug("keep-alive channel closed", "key", p.key)
	}()

	p.logger.Info("worker announced", "key", p.key, "host", host)
	return nil
}

// Deregister revokes the lease, deleting the key.
func (p *Presence) Deregister(ctx context.Context) error {
	if p.leaseID == 0 {
		return nil
	}
	p.logger.Info("withdrawing worker", "key", p.key)
	if _, err := p.client.Revoke(ctx, p.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
