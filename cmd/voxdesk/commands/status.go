package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/voxdesk/voxdesk/pkg/stores"
)

type statusReport struct {
	stores.Status
	Mode string `json:"mode"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which store is active",
		Long: `Connect using the current configuration and report which store
serves requests, whether the external store is attached, and the
non-secret parts of its connection parameters.`,
		Example: `  # Human readable
  voxdesk status

  # For scripts
  voxdesk status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, sessionOptions{connect: true})
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			report := statusReport{Status: sess.store.Status(), Mode: sess.store.Mode().String()}
			return printResult(cmd.OutOrStdout(), report, func(w io.Writer) {
				writeStatus(w, report)
			})
		},
	}
	return cmd
}

func writeStatus(w io.Writer, r statusReport) {
	active := stores.TargetLocal
	if r.UsingExternal {
		active = stores.TargetExternal
	}
	fmt.Fprintf(w, "Connected:      %v\n", r.Connected)
	fmt.Fprintf(w, "Active store:   %s\n", active)
	fmt.Fprintf(w, "External mode:  %s\n", r.Mode)
	if r.ExternalConfig != nil {
		fmt.Fprintf(w, "External:       %s@%s/%s\n", r.ExternalConfig.User, r.ExternalConfig.Host, r.ExternalConfig.Database)
	}
}
