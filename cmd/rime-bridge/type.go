package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/rime-bridge/internal/bridge"
	"github.com/woxQAQ/rime-bridge/pkg/protocol"
)

// dispatcher runs one bridge request.
type dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request) protocol.Response
}

type typeOptions struct {
	pick     int
	pageDown int
	options  []string
}

func newTypeCommand() *cobra.Command {
	opts := typeOptions{pick: -1}

	cmd := &cobra.Command{
		Use:   "type KEYS...",
		Short: "Feed key sequences to a fresh session and print each snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			_, logger, srv, err := setup(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer srv.Close(context.Background())

			return runType(ctx, srv, cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().IntVar(&opts.pick, "pick", -1, "Pick this candidate of the final page")
	cmd.Flags().IntVar(&opts.pageDown, "page-down", 0, "Flip this many pages forward before picking")
	cmd.Flags().StringSliceVar(&opts.options, "option", nil, "Session options to enable before typing (e.g. ascii_punct)")
	return cmd
}

func runType(ctx context.Context, d dispatcher, out io.Writer, keys []string, opts typeOptions) error {
	resp := d.Dispatch(ctx, protocol.Request{Op: protocol.OpInitialize})
	var status int
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		return fmt.Errorf("initialize: unexpected result %q", resp.Result)
	}
	if bridge.Status(status) != bridge.StatusOK {
		return fmt.Errorf("initialize failed: %s", bridge.Status(status))
	}

	for _, name := range opts.options {
		d.Dispatch(ctx, protocol.Request{Op: protocol.OpSetOption, Option: &name, Value: true})
	}

	var steps []protocol.Request
	for i := range keys {
		steps = append(steps, protocol.Request{Op: protocol.OpFeedInput, Keys: &keys[i]})
	}
	for i := 0; i < opts.pageDown; i++ {
		steps = append(steps, protocol.Request{Op: protocol.OpFlipPage})
	}
	if opts.pick >= 0 {
		index := opts.pick
		steps = append(steps, protocol.Request{Op: protocol.OpPickCandidate, Index: &index})
	}

	for _, req := range steps {
		resp := d.Dispatch(ctx, req)
		if resp.Error != "" {
			return fmt.Errorf("%s: %s", req.Op, resp.Error)
		}
		if _, err := fmt.Fprintf(out, "%s\n", resp.Result); err != nil {
			return err
		}
	}

	d.Dispatch(ctx, protocol.Request{Op: protocol.OpDestroy})
	return nil
}
