// Package cluster resolves a stable cluster identifier from cloud instance
// metadata. It is the fallback used when the configuration does not pin a
// cluster ID explicitly.
package cluster

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrUnresolvable means no supported metadata service answered, so the
// cluster ID must come from configuration instead.
var ErrUnresolvable = errors.New("cluster identity not resolvable from metadata")

// Identity is what the metadata service knows about the cluster this process
// runs in. ID has the form <provider>/<project>/<region>/<cluster-name>.
type Identity struct {
	ID        string
	Name      string
	Region    string
	ProjectID string
}

// Resolver probes the supported metadata services in order.
type Resolver struct {
	providers []provider
}

type provider interface {
	detect(ctx context.Context) bool
	resolve(ctx context.Context) (Identity, error)
}

// NewResolver creates a resolver with the given per-request timeout. Only GKE
// is supported today.
func NewResolver(timeout time.Duration) *Resolver {
	client := &http.Client{Timeout: timeout}
	return &Resolver{
		providers: []provider{newGKEMetadata(client, gcpMetadataBase)},
	}
}

// Resolve returns the identity from the first metadata service that responds,
// or ErrUnresolvable when none does.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	for _, p := range r.providers {
		if p.detect(ctx) {
			return p.resolve(ctx)
		}
	}
	return Identity{}, ErrUnresolvable
}
