// Command errquotient runs the Error Quotient service and its maintenance jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Use stderr since the logger may not be available yet
		_, _ = os.Stderr.WriteString("errquotient: " + err.Error() + "\n")
		return 1
	}
	return 0
}
