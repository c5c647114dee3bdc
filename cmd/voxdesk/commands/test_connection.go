package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newTestConnectionCommand() *cobra.Command {
	var conn connFlags

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that an external database is reachable",
		Long: `Open a throwaway connection with the given parameters and run a
liveness probe. Nothing is provisioned and the active store is not
touched. Without flags the external store from the configuration is
tested.`,
		Example: `  voxdesk test-connection --host db.example.com --user svc --password s3cret --database voxdesk`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			target := conn.connection()
			if !conn.isSet() {
				if ext := sess.cfg.ExternalConnection(); ext != nil {
					target = *ext
				}
			}

			result := sess.store.TestConnection(ctx, target)
			if err := printResult(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintln(w, result.Message)
			}); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("connection test failed")
			}
			return nil
		},
	}

	conn.register(cmd)
	return cmd
}
