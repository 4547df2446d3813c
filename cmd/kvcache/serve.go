package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kvcache/internal/app"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and, when grpc_addr is set, the gRPC API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags.config)
		},
	}
}

func runServe(ctx context.Context, path string) error {
	a, err := app.Load(ctx, path)
	if err != nil {
		return err
	}
	defer a.Close()

	running, err := a.Start(ctx)
	if err != nil {
		return err
	}
	if running.GRPCAddr != "" {
		log.Printf("grpc listening on %s", running.GRPCAddr)
	}
	log.Printf("listening on http://%s backend=%s", running.HTTPAddr, a.Config.Backend)

	<-ctx.Done()
	log.Printf("shutting down")
	return running.Shutdown()
}
