// Package supervisor restarts a managed actor's entrypoint after a panic
// or a fatal-error return, the restart-the-closure supervision pollers,
// monitors, and payouters all run under.
package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/chainerr"
)

const restartBackoff = 2 * time.Second

// Actor is anything the supervisor can run and restart: a poller's or
// monitor's Run loop.
type Actor func(ctx context.Context) error

// Supervise runs actor in a loop, recovering from panics and restarting
// after any panic or error return, until ctx is cancelled or the actor
// returns nil.
func Supervise(ctx context.Context, name string, actor Actor, log *zap.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		if stop := runOnce(ctx, name, actor, log); stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
		log.Info("supervisor restarting actor", zap.String("actor", name))
	}
}

// runOnce runs actor exactly once, recovering a panic into an error, and
// reports whether the supervisor should stop restarting it.
func runOnce(ctx context.Context, name string, actor Actor, log *zap.Logger) (stop bool) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("actor panicked", zap.String("actor", name), zap.Any("recover", r))
				err = chainerr.Fatalf(chainerr.CodeActorPanicked, "actor %s panicked", nil, name)
			}
		}()
		err = actor(ctx)
	}()

	if err == nil || ctx.Err() != nil {
		return true
	}
	log.Error("actor exited", zap.String("actor", name), zap.Error(err))
	return false
}
