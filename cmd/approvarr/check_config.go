package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCheckConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and test the qBittorrent login",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Configuration OK: %d rules, %d *arr instances\n", len(cfg.Rules), a.reconciler.Len())
			if a.notifier != nil {
				_, _ = fmt.Fprintf(out, "Notifications: %s\n", a.notifier.Provider())
			} else {
				_, _ = fmt.Fprintln(out, "Notifications: disabled")
			}

			if v.GetBool("offline") {
				return nil
			}

			if err := a.session.Authenticate(ctx); err != nil {
				return err
			}
			version, err := a.session.Version(ctx)
			if err != nil {
				return err
			}
			torrents, err := a.session.ListAll(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "qBittorrent %s at %s (%d torrents)\n", version, a.session.BaseURL(), len(torrents))
			return nil
		},
	}

	cmd.Flags().Bool("offline", false, "only validate the file, do not contact qBittorrent")
	return cmd
}
