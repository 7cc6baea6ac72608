package provision

import (
	"context"

	"github.com/sampsyo/cluster-workers/internal/domain"
)

// StaticResolver always answers with the same host.
type StaticResolver string

// ResolveMaster implements domain.HostResolver.
func (r StaticResolver) ResolveMaster(context.Context) (string, error) {
	if r == "" {
		return "", domain.ErrMasterNotFound
	}
	return string(r), nil
}
