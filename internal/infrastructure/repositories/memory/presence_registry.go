package memory

import (
	"context"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

// NoopPresenceRegistry is used when no shared store is configured.
type NoopPresenceRegistry struct{}

var _ ports.PresenceRegistry = NoopPresenceRegistry{}

func (NoopPresenceRegistry) Register(context.Context, domain.ConnectionInfo) error   { return nil }
func (NoopPresenceRegistry) Unregister(context.Context, domain.ConnectionInfo) error { return nil }
func (NoopPresenceRegistry) Refresh(context.Context, []domain.ConnectionInfo) error  { return nil }
func (NoopPresenceRegistry) Lookup(context.Context, string) (string, bool, error)    { return "", false, nil }
func (NoopPresenceRegistry) Close(context.Context) error                             { return nil }
