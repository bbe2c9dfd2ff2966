package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wudi/pagescan/config"
	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/session"
)

// app holds what every command shares. The session is opened before each
// command runs and restored from the saved snapshot.
type app struct {
	configPath string
	verbose    bool
	cfg        config.Config
	logger     observability.Logger
	session    *session.Session
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "pagescan",
		Short: "Capture, clean up and export scanned document pages",
		Long: `pagescan keeps a session of captured pages. Each page is cropped to its
document boundary, color adjusted and rotated without touching the captured
original, and the session is exported as a PDF (optionally searchable) or as
one image per page.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return a.open()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default "+config.DefaultFile+" if present)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output")

	cmd.AddCommand(
		newAddCmd(a),
		newListCmd(a),
		newFilterCmd(a),
		newPreviewCmd(a),
		newSwapCmd(a),
		newMoveCmd(a),
		newRemoveCmd(a),
		newExportCmd(a),
		newDiscardCmd(a),
		newTargetCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.cfg = cfg
	a.logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	a.session, err = session.Open(cfg, session.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}
