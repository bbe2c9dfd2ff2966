package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wudi/pagescan/export"
	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/server"
	"github.com/wudi/pagescan/upload"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		fileType string
		send     bool
	)
	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export the session as a PDF or one image per page",
		Long: `Export writes the pages in order to the configured output directory.

Types: pdf, pdf-ocr (searchable, falls back to a plain PDF when the OCR
trained data is missing), jpg, png. With --upload the files are handed to
the session target and the session is discarded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, err := export.ParseFileType(fileType)
			if err != nil {
				return err
			}
			uris, err := a.session.Export(cmd.Context(), args[0], ft, send)
			for _, u := range uris {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&fileType, "type", "t", "pdf", "pdf, pdf-ocr, jpg or png")
	cmd.Flags().BoolVar(&send, "upload", false, "hand the files to the session target")
	return cmd
}

func newTargetCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "target [kind:path]",
		Short: "Show or set where exports are uploaded",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				t, ok := a.session.Target()
				if !ok {
					return upload.ErrNoTarget
				}
				fmt.Fprintln(cmd.OutOrStdout(), t)
				return nil
			}
			t, err := upload.ParseTarget(args[0])
			if err != nil {
				return err
			}
			t.Name = name
			return a.session.SetTarget(t)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name of the target")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(a.session, a.logger).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.logger.Info("listening", observability.String("addr", addr))

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return a.session.Save()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
