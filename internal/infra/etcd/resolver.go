package etcd

import (
	"context"
	"fmt"

	"github.com/sampsyo/cluster-workers/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// ElectionResolver finds the master by reading the current leader of the
// master election.
type ElectionResolver struct {
	client *clientv3.Client
}

func NewElectionResolver(client *clientv3.Client) *ElectionResolver {
	return &ElectionResolver{client: client}
}

// ResolveMaster implements domain.HostResolver.
func (r *ElectionResolver) ResolveMaster(ctx context.Context) (string, error) {
	// Same query as concurrency.Election.Leader, without holding a session.
	resp, err := r.client.Get(ctx, MasterElectionPrefix+"/", clientv3.WithFirstCreate()...)
	if err != nil {
		return "", fmt.Errorf("failed to query master election: %w", err)
	}
	if len(resp.Kvs) == 0 || len(resp.Kvs[0].Value) == 0 {
		return "", domain.ErrMasterNotFound
	}
	return string(resp.Kvs[0].Value), nil
}
