// Package safety provides panic-recovery wrappers for the long-lived
// goroutines the bridge spawns per source and per subsystem, so a
// panic in one source's protocol adapter cannot bring down the whole
// process. Adapted from coreengine/kernel/recovery.go's
// SafeExecute/SafeGo shape (stack-trace logging, recover-then-report),
// narrowed to the one case this module needs: a background goroutine.
package safety

import (
	"fmt"
	"runtime/debug"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
)

// Go runs fn in a new goroutine. A panic is recovered, logged with its
// stack trace under operation, and otherwise swallowed — the caller is
// not blocked waiting for fn and has no return channel to report on.
func Go(log logging.Logger, operation string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("goroutine panic recovered",
					"operation", operation,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
