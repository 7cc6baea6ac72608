package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/sampsyo/cluster-workers/internal/config"
	"github.com/sampsyo/cluster-workers/internal/domain"
	"github.com/sampsyo/cluster-workers/internal/infra/etcd"
)

// NewResolver builds the host resolver selected by cfg. The returned close
// function releases any connection it holds.
func NewResolver(cfg *config.Config) (domain.HostResolver, func(), error) {
	switch cfg.HostResolver {
	case config.ResolverSlurm:
		s, err := NewSlurm()
		if err != nil {
			return nil, nil, err
		}
		return &SlurmResolver{Slurm: s, MasterJobName: cfg.Slurm.MasterJobName}, func() {}, nil
	case config.ResolverEtcd:
		cli, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return nil, nil, err
		}
		return etcd.NewElectionResolver(cli), func() { _ = cli.Close() }, nil
	default:
		return StaticResolver(cfg.Host), func() {}, nil
	}
}

// MasterAddr resolves the master's host:port.
func MasterAddr(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, error) {
	r, closeFn, err := NewResolver(cfg)
	if err != nil {
		return "", err
	}
	defer closeFn()

	host, err := r.ResolveMaster(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to locate master via %s: %w", cfg.HostResolver, err)
	}
	logger.Debug("master located", "resolver", cfg.HostResolver, "host", host)
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port)), nil
}
