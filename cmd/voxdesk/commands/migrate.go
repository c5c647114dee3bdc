package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate FILE",
		Short: "Apply a SQL migration file",
		Long: `Split a SQL file into statements and run them as one transaction on
the active store. Semicolons inside quotes and comments do not split.`,
		Example: `  voxdesk migrate ./migrations/0004_add_skills.sql`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, sessionOptions{connect: true})
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			log.Info().Str("file", args[0]).Msg("Applying migration")
			ok, err := sess.store.ExecuteMigration(ctx, args[0])
			if err != nil {
				return err
			}

			result := map[string]any{"file": args[0], "success": ok}
			if err := printResult(cmd.OutOrStdout(), result, func(w io.Writer) {
				if ok {
					fmt.Fprintf(w, "Applied %s\n", args[0])
				} else {
					fmt.Fprintf(w, "Migration %s failed, see the log for details\n", args[0])
				}
			}); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("migration failed")
			}
			return nil
		},
	}
	return cmd
}
