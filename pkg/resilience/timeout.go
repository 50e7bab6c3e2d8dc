// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/jllopis/agora/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed. Zero disables the bound.
	Duration time.Duration
}

// WithTimeout runs fn with a derived context bounded by config.Duration.
// A panic inside fn is converted into an error. When the deadline passes
// first, an errors.CodeTimeout error is returned without waiting for fn.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) error) error {
	var cancel context.CancelFunc
	if config.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, config.Duration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.New(errors.CodeInternal, fmt.Sprintf("panic: %v", r), nil)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", config.Duration.String()).
			WithRecoverable(true)
	case err := <-done:
		return err
	}
}
