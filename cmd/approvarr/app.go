package main

import (
	"context"
	"fmt"

	"k8s.io/client-go/kubernetes/scheme"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/poiley/approvarr/internal/adapters/qbittorrent"
	"github.com/poiley/approvarr/internal/approval"
	"github.com/poiley/approvarr/internal/arr"
	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/internal/discovery"
	"github.com/poiley/approvarr/internal/notify"
)

// app holds everything built from the configuration.
type app struct {
	cfg          *config.Config
	session      *qbittorrent.Session
	notifier     notify.Notifier
	reconciler   *arr.Reconciler
	orchestrator *approval.Orchestrator
}

// buildApp resolves credentials and constructs every collaborator once.
// No network call is made except Kubernetes lookups for secret references.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logf.FromContext(ctx)

	resolver := &discovery.Resolver{Namespace: cfg.Kubernetes.Namespace}
	if cfg.NeedsKubernetes() {
		c, err := newKubeClient()
		if err != nil {
			return nil, err
		}
		resolver.Client = c
	}

	username, password := cfg.Qbit.Username, cfg.Qbit.Password
	if ref := cfg.Qbit.CredentialsSecretRef; ref != nil {
		var err error
		if username == "" {
			if username, err = resolver.SecretValue(ctx, ref.Name, ref.UsernameKey); err != nil {
				return nil, fmt.Errorf("failed to resolve qBittorrent username: %w", err)
			}
		}
		if password == "" {
			if password, err = resolver.SecretValue(ctx, ref.Name, ref.PasswordKey); err != nil {
				return nil, fmt.Errorf("failed to resolve qBittorrent password: %w", err)
			}
		}
	}

	session := qbittorrent.New(qbittorrent.Config{
		BaseURL:            cfg.Qbit.URL,
		Username:           username,
		Password:           password,
		InsecureSkipVerify: cfg.Qbit.InsecureSkipVerify,
		Timeout:            cfg.Qbit.Timeout(),
	})

	notifier, err := notify.New(cfg)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		log.Info("Notifications disabled", "provider", cfg.Notifications.Provider, "publicURL", cfg.Server.PublicURL())
	}

	reconciler, err := arr.FromConfig(ctx, cfg.Arr, resolver, 0)
	if err != nil {
		return nil, err
	}

	orchestrator := approval.New(approval.Deps{
		Client:          session,
		Notifier:        notifier,
		Queue:           reconciler,
		Rules:           cfg.Rules,
		Behavior:        cfg.Behavior,
		NotifyDecisions: cfg.Notifications.NotifyDecisions,
	})

	return &app{
		cfg:          cfg,
		session:      session,
		notifier:     notifier,
		reconciler:   reconciler,
		orchestrator: orchestrator,
	}, nil
}

func newKubeClient() (client.Client, error) {
	restConfig, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	c, err := client.New(restConfig, client.Options{Scheme: scheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return c, nil
}
