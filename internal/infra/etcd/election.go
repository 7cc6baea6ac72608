package etcd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sampsyo/cluster-workers/internal/domain"
	"github.com/sampsyo/cluster-workers/internal/metrics"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

type electionManager struct {
	client   *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
	isLeader bool
	mutex    sync.RWMutex
	nodeID   string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewElectionManager creates a manager for the master election.
func NewElectionManager(client *clientv3.Client, nodeID string, ttl time.Duration, logger *slog.Logger) domain.LeaderElectionManager {
	return &electionManager{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
		logger: logger.With("component", "master-election"),
	}
}

func (m *electionManager) Campaign(ctx context.Context, value string) (<-chan struct{}, error) {
	var err error
	// If this node dies the lease expires and the election moves on.
	m.session, err = concurrency.NewSession(m.client, concurrency.WithTTL(int(m.ttl.Seconds())))
	if err != nil {
		return nil, err
	}

	m.election = concurrency.NewElection(m.session, MasterElectionPrefix)

	m.logger.Info("campaigning for master", "node_id", m.nodeID, "value", value)
	if err := m.election.Campaign(ctx, value); err != nil {
		_ = m.session.Close()
		return nil, err
	}

	m.logger.Info("became master", "node_id", m.nodeID)
	m.mutex.Lock()
	m.isLeader = true
	m.mutex.Unlock()
	metrics.IsLeader.WithLabelValues(m.nodeID).Set(1)

	// Closed when the session expires, meaning leadership is lost.
	return m.session.Done(), nil
}

func (m *electionManager) Resign(ctx context.Context) error {
	m.mutex.Lock()
	m.isLeader = false
	m.mutex.Unlock()
	metrics.IsLeader.WithLabelValues(m.nodeID).Set(0)

	if m.election == nil {
		return nil
	}
	m.logger.Info("resigning master", "node_id", m.nodeID)
	err := m.election.Resign(ctx)
	_ = m.session.Close()
	return err
}

func (m *electionManager) IsLeader() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.isLeader
}
