package etcd

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Directory tracks the workers announced through Presence.
type Directory struct {
	client  *clientv3.Client
	logger  *slog.Logger
	mu      sync.RWMutex
	workers map[string]string // worker id -> host
}

func NewDirectory(client *clientv3.Client, logger *slog.Logger) *Directory {
	return &Directory{
		client:  client,
		logger:  logger.With("component", "worker-directory"),
		workers: make(map[string]string),
	}
}

// Watch loads the current announcements and then follows changes until ctx
// is cancelled.
func (d *Directory) Watch(ctx context.Context) {
	d.logger.Info("watching worker announcements")

	rev, err := d.load(ctx)
	if err != nil {
		d.logger.Error("failed to load worker announcements", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	for resp := range d.client.Watch(ctx, WorkerPrefix, opts...) {
		for _, ev := range resp.Events {
			id := workerID(ev.Kv.Key)
			d.mu.Lock()
			switch ev.Type {
			case clientv3.EventTypePut:
				if _, ok := d.workers[id]; !ok {
					d.logger.Info("worker announced", "id", id, "host", string(ev.Kv.Value))
				}
				d.workers[id] = string(ev.Kv.Value)
			case clientv3.EventTypeDelete:
				d.logger.Info("worker withdrawn", "id", id, "host", d.workers[id])
				delete(d.workers, id)
			}
			d.mu.Unlock()
		}
	}
	d.logger.Info("stopped watching worker announcements")
}

func (d *Directory) load(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, WorkerPrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, kv := range resp.Kvs {
		d.workers[workerID(kv.Key)] = string(kv.Value)
	}
	return resp.Header.Revision, nil
}

// Hosts returns the announced worker hosts, sorted.
func (d *Directory) Hosts() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	hosts := make([]string, 0, len(d.workers))
	for _, h := range d.workers {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func workerID(key []byte) string {
	return strings.TrimPrefix(string(key), WorkerPrefix)
}
