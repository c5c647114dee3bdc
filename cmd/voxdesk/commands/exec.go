package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voxdesk/voxdesk/pkg/stores"
)

func newExecCommand() *cobra.Command {
	var forceLocal bool

	cmd := &cobra.Command{
		Use:   "exec SQL [ARGS...]",
		Short: "Run one statement through the router",
		Long: `Run a single statement exactly as the service would: it is routed by
the tables it touches, retried on failure, and mirrored to the local
store when it writes to the external one. Remaining arguments bind to
the ? placeholders as strings.`,
		Example: `  voxdesk exec "SELECT * FROM calls WHERE call_sid = ?" CA123
  voxdesk exec "SELECT COUNT(*) AS n FROM users" --json
  voxdesk exec "DELETE FROM call_logs WHERE id = ?" 42 --local`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, sessionOptions{connect: true})
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			params := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				params = append(params, a)
			}

			rows, err := sess.store.Execute(ctx, args[0], params, forceLocal)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []stores.Row{}
			}
			return printResult(cmd.OutOrStdout(), rows, func(w io.Writer) {
				writeRows(w, rows)
			})
		},
	}

	cmd.Flags().BoolVar(&forceLocal, "local", false, "run against the local store regardless of routing")
	return cmd
}

// writeRows prints rows as an aligned table with sorted column names.
func writeRows(w io.Writer, rows []stores.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(no rows)")
		return
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, col)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, col := range columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, row[col])
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}
