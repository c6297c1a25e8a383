package services

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const hookTimeout = 20 * time.Second

// Hook is a side effect that runs after a durable write, such as an email or a push.
type Hook struct {
	Name string
	Run  func(ctx context.Context) error
}

// runPostCommit runs hooks in order once the primary write has committed. A failing or panicking
// hook is logged and never undoes the write or stops the hooks after it. It returns the number of
// hooks that failed.
func runPostCommit(ctx context.Context, hooks ...Hook) int {
	if len(hooks) == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()

	failed := 0
	for _, h := range hooks {
		if err := runHook(ctx, h); err != nil {
			failed++
			log.WithError(err).WithField("hook", h.Name).Error("Post-commit hook failed")
		}
	}
	return failed
}

func runHook(ctx context.Context, h Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Run(ctx)
}
