package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/poiley/approvarr/internal/config"
)

const envPrefix = "APPROVARR"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "approvarr",
		Short: "Approval gate for Sonarr/Radarr grabs",
		Long: `approvarr receives grab webhooks from Sonarr and Radarr, matches them
against approval rules, tags and pauses matching torrents in qBittorrent and
sends the operator approve/reject links.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			logf.SetLogger(zap.New(zap.UseDevMode(v.GetBool("verbose"))))
			return nil
		},
	}

	root.PersistentFlags().StringP("config", "c", "", fmt.Sprintf("config file (default $%s or %s)", config.EnvConfigPath, config.DefaultConfigPath))
	root.PersistentFlags().BoolP("verbose", "v", false, "development logging with debug output")

	root.AddCommand(newServeCmd(v), newCheckConfigCmd(v))
	return root
}

// loadConfig reads the file named by --config or $APPROVARR_CONFIG.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	return config.Load(v.GetString("config"))
}
