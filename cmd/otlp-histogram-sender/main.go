// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Command otlp-histogram-sender sends synthetic histogram metrics to an OTLP
// endpoint, once or on an interval until interrupted.
//
//	DT_ENDPOINT=https://<cluster>/e/<env-id>/api/v2/otlp \
//	DT_API_TOKEN=dt0c01... \
//	otlp-histogram-sender --loop --interval 30
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/appoptics/otlp-histogram-sender/internal/command"
)

func main() {
	// The signals stay captured until the teardown is done, so a second
	// interrupt doesn't cut the final flush short.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := command.Run(ctx, os.Args[1:], command.DefaultSettings())
	stop()
	os.Exit(code)
}
