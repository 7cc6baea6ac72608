package domain

import "context"

// LeaderElectionManager guards the single running master.
type LeaderElectionManager interface {
	// Campaign blocks until this node holds leadership, publishing value as
	// the leader's payload. The returned channel closes when leadership is
	// lost.
	Campaign(ctx context.Context, value string) (<-chan struct{}, error)
	Resign(ctx context.Context) error
	IsLeader() bool
}
