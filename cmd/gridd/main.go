// Command gridd serves GeoSOT grid coding, filter synthesis and polygon
// aggregation over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geosot/gridindex/bootstrap"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Initialize(ctx, "gridd", bootstrap.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "gridd: %v\n", err)
		return 1
	}

	runErr := svc.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		svc.Logger.Error("shutdown incomplete", "error", err)
	}

	if runErr != nil {
		svc.Logger.Error("server exited", "error", runErr)
		return 1
	}
	svc.Logger.Info("service stopped")
	return 0
}
