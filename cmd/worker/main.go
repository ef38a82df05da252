// Package main is the entry point of the schedule sync worker.
//
// The worker keeps a mirror of student timetables fresh:
//   - a periodic fan-out enqueues one refresh job per active student
//   - consumers fetch the schedule page with the stored session cookies,
//     parse it and persist days whose content changed
//   - rotated cookies are merged back into the credential store
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
