package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/rime-bridge/pkg/protocol"
)

func newVersionCommand() *cobra.Command {
	var engine bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the bridge version, and optionally the engine version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rime-bridge %s (commit %s, built %s)\n", version, commit, date)
			if !engine {
				return nil
			}

			ctx, cancel := signalContext()
			defer cancel()

			_, logger, srv, err := setup(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer srv.Close(context.Background())

			fmt.Fprintf(out, "librime %s\n", engineVersion(ctx, srv))
			return nil
		},
	}

	cmd.Flags().BoolVar(&engine, "engine", false, "Initialize the engine and report its version")
	return cmd
}

// engineVersion initializes the engine so the version is known, then reports it.
func engineVersion(ctx context.Context, d dispatcher) string {
	d.Dispatch(ctx, protocol.Request{Op: protocol.OpInitialize})
	resp := d.Dispatch(ctx, protocol.Request{Op: protocol.OpGetVersion})

	var v string
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		return "unknown"
	}
	return v
}
