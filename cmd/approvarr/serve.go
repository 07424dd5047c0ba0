package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/poiley/approvarr/internal/server"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and the approve/reject links",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := signals.SetupSignalHandler()
			log := logf.Log.WithName("approvarr")
			ctx = logf.IntoContext(ctx, log)

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}

			var audit *zap.Logger
			if cfg.Server.WebhookLog != "" {
				if audit, err = server.NewAuditLogger(cfg.Server.WebhookLog); err != nil {
					return err
				}
				defer func() { _ = audit.Sync() }()
			}

			listen := cfg.Server.Listen
			if l := v.GetString("listen"); l != "" {
				listen = l
			}

			log.Info("Starting approvarr",
				"qbittorrent", a.session.BaseURL(),
				"rules", len(cfg.Rules),
				"arrInstances", a.reconciler.Len(),
				"defaultOnError", cfg.Behavior.DefaultOnError)

			srv := server.New(server.Options{
				Orchestrator: a.orchestrator,
				AuditLog:     audit,
				Logger:       log.WithName("server"),
			})
			return srv.Run(ctx, listen)
		},
	}

	cmd.Flags().String("listen", "", "listen address, overrides server.listen")
	return cmd
}
