// Command guardianctl runs the batch sweeps and model tooling from the
// command line.
//
//	guardianctl check-escapes
//	guardianctl detect-anomalies --force
//	guardianctl update-risk-scores
//	guardianctl train-model --samples labeled.json
//	guardianctl evaluate-model --samples holdout.json
//	guardianctl token --user-id 1 --role admin
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"guardian_tracker/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.Stdout, config.Load).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "guardianctl:", err)
		os.Exit(1)
	}
}
