package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/voxdesk/voxdesk/pkg/stores"
)

func newProvisionCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the schema on one store",
		Long: `Create any missing tables on the local or the external store. Every
statement is idempotent, so running it against an up-to-date store is
harmless. The identity table is only ever created locally.`,
		Example: `  voxdesk provision --target local
  voxdesk provision --target external`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := stores.Target(target)
			if t != stores.TargetLocal && t != stores.TargetExternal {
				return fmt.Errorf("invalid target %q: must be local or external", target)
			}

			ctx := cmd.Context()
			sess, err := openSession(ctx, sessionOptions{connect: true})
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			if err := sess.store.Provision(ctx, t); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), map[string]any{"target": t, "success": true}, func(w io.Writer) {
				fmt.Fprintf(w, "Provisioned %s store\n", t)
			})
		},
	}

	cmd.Flags().StringVar(&target, "target", string(stores.TargetLocal), "store to provision (local|external)")
	return cmd
}
