// Package etcd holds the optional etcd-backed coordination used when the
// master's location is published through an election rather than known up
// front.
package etcd

import (
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// MasterElectionPrefix is the election the master campaigns on. The
	// leader's value is its advertised host.
	MasterElectionPrefix = "/cw/master"
	// WorkerPrefix is where workers announce their presence.
	WorkerPrefix = "/cw/workers/"
)

func NewClient(endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return cli, nil
}
