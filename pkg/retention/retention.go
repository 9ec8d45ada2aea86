// Package retention implements recovery and hard-purge for soft-deleted
// memory nodes, enforcing the retention window the storage layer itself
// does not know about.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/tomas-eckhart/memlife/pkg/store"
)

// ErrNotRecoverable is returned when a node is not SOFT_DELETED, or its
// retention window has already elapsed.
var ErrNotRecoverable = errors.New("memory node is not recoverable")

// Policy carries the configured retention window and recovery behavior.
type Policy struct {
	SoftDeleteDays             int
	ResetAccessCountOnRecovery bool
}

// Recover restores uuid from SOFT_DELETED back to ARCHIVED if it is still
// within the retention window, per Policy. Fails with ErrNotRecoverable
// otherwise -- including when the node isn't SOFT_DELETED at all.
func Recover(ctx context.Context, s store.NodeStore, p Policy, uuid string, now time.Time) error {
	node, err := s.GetMemoryNode(ctx, uuid)
	if err != nil {
		return err
	}

	if node.LifecycleState != "SOFT_DELETED" || node.SoftDeletedAt == nil {
		return ErrNotRecoverable
	}

	window := time.Duration(p.SoftDeleteDays) * 24 * time.Hour
	if now.Sub(*node.SoftDeletedAt) >= window {
		return ErrNotRecoverable
	}

	return s.Recover(ctx, uuid, now, p.ResetAccessCountOnRecovery)
}

// PurgeExpired hard-deletes every SOFT_DELETED node whose retention window
// has elapsed as of now, delegating the atomic batch delete to the store.
func PurgeExpired(ctx context.Context, s store.NodeStore, p Policy, now time.Time) store.BatchResult {
	cutoff := now.Add(-time.Duration(p.SoftDeleteDays) * 24 * time.Hour)
	return s.BatchPurge(ctx, cutoff)
}
