// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/internal/observability"
	"github.com/xkilldash9x/uiprobe/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve a report directory over HTTP for local review",
		Long: `Serves report.html, its screenshots and the JSON API of a report directory.
The directory defaults to probe.output_dir. Stop with Ctrl+C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			dir := cfg.Probe().OutputDir
			if len(args) == 1 {
				dir = args[0]
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Serve().Addr
			}

			var runs server.HistoryReader
			if cfg.History().Enabled {
				store, err := openHistoryStore(cmd, cfg.History())
				if err != nil {
					logger.Warn("Run history unavailable.", zap.Error(err))
				} else {
					defer store.Close()
					runs = store
				}
			}

			srv := server.New(addr, artifactFs(), dir, runs, logger)
			err = srv.Start(cmd.Context(), func(bound string) {
				fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s/\n", dir, bound)
			})
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default serve.addr)")
	return cmd
}
