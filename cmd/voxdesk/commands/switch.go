package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voxdesk/voxdesk/pkg/stores"
)

func newSwitchCommand() *cobra.Command {
	var (
		enable  bool
		disable bool
		conn    connFlags
	)

	cmd := &cobra.Command{
		Use:   "switch",
		Short: "Attach or detach the external store",
		Long: `Attach the external store and route shared data to it, or detach it
and return to the local store.

Enabling verifies the connection and provisions the external schema
before any request is routed there. The decision and the parameters
are persisted in the local store so the next start comes up the same
way. When the connection flags are omitted the external store from
the configuration is used.`,
		Example: `  # Attach using explicit parameters
  voxdesk switch --enable --host db.example.com --user svc --password s3cret --database voxdesk

  # Back to local only
  voxdesk switch --disable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable == disable {
				return errors.New("exactly one of --enable or --disable is required")
			}

			ctx := cmd.Context()
			sess, err := openSession(ctx, sessionOptions{connect: true})
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			var target *stores.ConnectionConfig
			if enable {
				if conn.isSet() {
					c := conn.connection()
					target = &c
				} else {
					target = sess.cfg.ExternalConnection()
				}
			}

			log.Info().Bool("enable", enable).Msg("Switching external store")
			ok, err := sess.store.SwitchToExternal(ctx, enable, target)
			if err != nil {
				return err
			}

			report := statusReport{Status: sess.store.Status(), Mode: sess.store.Mode().String()}
			if err := printResult(cmd.OutOrStdout(), report, func(w io.Writer) {
				writeStatus(w, report)
			}); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("switch failed, running on the local store")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&enable, "enable", false, "attach the external store")
	cmd.Flags().BoolVar(&disable, "disable", false, "detach the external store")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	conn.register(cmd)
	return cmd
}
