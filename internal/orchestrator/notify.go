package orchestrator

import (
	"context"

	"go.uber.org/zap"
)

// Notifier is told when a rollback left a resource behind. Operators pick
// these up to clean by hand.
type Notifier interface {
	CompensationFailed(ctx context.Context, accountID, region, resource string, err error)
}

type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n LogNotifier) CompensationFailed(_ context.Context, accountID, region, resource string, err error) {
	n.Log.Errorw("orphaned resource needs manual cleanup", "account", accountID, "region", region, "resource", resource, "err", err)
}
