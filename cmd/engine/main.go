package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/joinguard/joinguard/internal/chat"
	"github.com/joinguard/joinguard/internal/setup"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "engine",
		Usage: "Start the joinguard verification engine",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log outbound platform calls instead of executing them",
				Value: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runEngine(ctx, cmd.Bool("dry-run"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, os.Args)
}

func runEngine(ctx context.Context, dryRun bool) error {
	if !dryRun {
		return errors.New("no platform transport is configured; run with --dry-run")
	}

	app, err := setup.InitializeApp(ctx)
	if err != nil {
		return err
	}
	defer app.Cleanup()

	// The platform transport attaches here; the engine ships with a dry-run
	// API so it can be exercised without credentials.
	engineRouter := app.NewEngine(chat.NewLoggingAPI(app.Logger))
	engineRouter.Start(ctx)

	app.Logger.Info("Verification engine started",
		zap.Int("laneCount", app.Config.Engine.LaneCount))

	<-ctx.Done()

	app.Logger.Info("Shutting down")
	engineRouter.Stop()

	return nil
}
