// Package config loads and validates the approvarr YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"

	"github.com/poiley/approvarr/internal/discovery"
)

const (
	// EnvConfigPath overrides the default config file location.
	EnvConfigPath = "APPROVARR_CONFIG"

	// DefaultConfigPath is used when neither a flag nor the env var is set.
	DefaultConfigPath = "config.yml"

	DefaultListenAddress  = ":5001"
	DefaultPendingTag     = "needs-approval"
	DefaultApprovedTag    = "approved"
	DefaultCreationDelay  = 1.0
	DefaultClientTimeout  = 5.0
	DefaultNtfyServer     = "https://ntfy.sh"
	DefaultK8sNamespace   = "default"
	DefaultSecretKey      = "apiKey"
	DefaultConfigMapKey   = "config.xml"
	DefaultUsernameKey    = "username"
	DefaultPasswordKey    = "password"
	DefaultPushoverAPIURL = "https://api.pushover.net/1/messages.json"
)

// Notification providers
const (
	ProviderPushover = "pushover"
	ProviderNtfy     = "ntfy"
	ProviderDiscord  = "discord"
	ProviderTelegram = "telegram"
)

// Controller types
const (
	ArrTypeSonarr = "sonarr"
	ArrTypeRadarr = "radarr"
)

// Config is the root of config.yml.
type Config struct {
	Qbit          QbitConfig         `yaml:"qbit"`
	Server        ServerConfig       `yaml:"server"`
	Notifications NotificationConfig `yaml:"notifications"`
	Behavior      BehaviorConfig     `yaml:"behavior"`
	Rules         []Rule             `yaml:"rules"`
	Arr           []ArrInstance      `yaml:"arr"`
	Kubernetes    KubernetesConfig   `yaml:"kubernetes"`
}

// QbitConfig describes the qBittorrent WebUI connection.
type QbitConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// CredentialsSecretRef loads username/password from a Kubernetes Secret
	// when they are not given inline.
	CredentialsSecretRef *CredentialsSecretRef `yaml:"credentials_secret_ref,omitempty"`

	InsecureSkipVerify bool    `yaml:"insecure_skip_verify,omitempty"`
	TimeoutSeconds     float64 `yaml:"timeout_seconds,omitempty"`
}

// Timeout is the per-call network timeout for the download client.
func (q QbitConfig) Timeout() time.Duration {
	return seconds(q.TimeoutSeconds)
}

// ServerConfig configures the HTTP listener and public link base.
type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"`

	// ExternalURL is the public base URL used in approve/reject links.
	ExternalURL string `yaml:"external_url,omitempty"`

	// BasePublicURL is the legacy name of ExternalURL.
	BasePublicURL string `yaml:"base_public_url,omitempty"`

	// WebhookLog is a file that receives every inbound webhook body.
	WebhookLog string `yaml:"webhook_log,omitempty"`
}

// PublicURL returns the base URL for approval links, or "" when unset.
func (s ServerConfig) PublicURL() string {
	if s.ExternalURL != "" {
		return strings.TrimRight(s.ExternalURL, "/")
	}
	return strings.TrimRight(s.BasePublicURL, "/")
}

// NotificationConfig selects a provider and holds per-provider settings.
type NotificationConfig struct {
	Provider string `yaml:"provider,omitempty"`

	// NotifyDecisions sends an info message after every approve/reject.
	NotifyDecisions bool `yaml:"notify_decisions,omitempty"`

	Pushover *PushoverConfig `yaml:"pushover,omitempty"`
	Ntfy     *NtfyConfig     `yaml:"ntfy,omitempty"`
	Discord  *DiscordConfig  `yaml:"discord,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
}

type PushoverConfig struct {
	Token    string `yaml:"token"`
	User     string `yaml:"user"`
	Priority int    `yaml:"priority,omitempty"`
	APIURL   string `yaml:"api_url,omitempty"`
}

type NtfyConfig struct {
	Server string `yaml:"server,omitempty"`
	Topic  string `yaml:"topic"`
	Token  string `yaml:"token,omitempty"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type TelegramConfig struct {
	Token     string `yaml:"token"`
	ChatID    int64  `yaml:"chat_id"`
	ServerURL string `yaml:"server_url,omitempty"`
}

// BehaviorConfig tunes the grab pipeline and the approve/reject transitions.
type BehaviorConfig struct {
	// DefaultOnError applies when no matching rule overrides it.
	DefaultOnError ErrorPolicy `yaml:"default_on_error,omitempty"`

	// CreationDelaySeconds is the wait before mutating a freshly grabbed torrent.
	CreationDelaySeconds *float64 `yaml:"creation_delay_seconds,omitempty"`

	// RegistrationTimeoutSeconds enables polling qBittorrent until the torrent
	// exists, bounded by this timeout. Zero disables polling.
	RegistrationTimeoutSeconds float64 `yaml:"registration_timeout_seconds,omitempty"`

	PendingTag  string `yaml:"pending_tag,omitempty"`
	ApprovedTag string `yaml:"approved_tag,omitempty"`

	ReconcileQueueOnReject *bool `yaml:"reconcile_queue_on_reject,omitempty"`
}

// CreationDelay returns the fixed pre-mutation delay.
func (b BehaviorConfig) CreationDelay() time.Duration {
	return seconds(ptr.Deref(b.CreationDelaySeconds, DefaultCreationDelay))
}

// RegistrationTimeout returns the bounded poll timeout (0 = no polling).
func (b BehaviorConfig) RegistrationTimeout() time.Duration {
	return seconds(b.RegistrationTimeoutSeconds)
}

// ShouldReconcileQueueOnReject reports whether reject also cleans the *arr queue.
func (b BehaviorConfig) ShouldReconcileQueueOnReject() bool {
	return ptr.Deref(b.ReconcileQueueOnReject, true)
}

// Rule is one declarative approval policy entry.
type Rule struct {
	Name           string      `yaml:"name"`
	Apps           []string    `yaml:"apps"`
	IndexerMatches []string    `yaml:"indexer_matches,omitempty"`
	TagsToAdd      []string    `yaml:"tags_to_add,omitempty"`
	PauseTorrent   *bool       `yaml:"pause_torrent,omitempty"`
	Notify         *bool       `yaml:"notify,omitempty"`
	OnError        ErrorPolicy `yaml:"on_error,omitempty"`
}

// ShouldPause reports the pause flag (default true).
func (r Rule) ShouldPause() bool {
	return ptr.Deref(r.PauseTorrent, true)
}

// ShouldNotify reports the notify flag (default true).
func (r Rule) ShouldNotify() bool {
	return ptr.Deref(r.Notify, true)
}

// ArrInstance is one Sonarr/Radarr controller whose queue can be reconciled.
type ArrInstance struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type,omitempty"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key,omitempty"`

	// ConfigPath points at the instance's config.xml for API key discovery.
	ConfigPath string `yaml:"config_path,omitempty"`

	APIKeySecretRef    *SecretKeySelector    `yaml:"api_key_secret_ref,omitempty"`
	APIKeyConfigMapRef *ConfigMapKeySelector `yaml:"api_key_config_map_ref,omitempty"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// CredentialSource converts the instance's key settings for discovery.
func (a ArrInstance) CredentialSource() discovery.CredentialSource {
	src := discovery.CredentialSource{
		Literal:    a.APIKey,
		ConfigPath: a.ConfigPath,
	}
	if a.APIKeySecretRef != nil {
		src.Secret = &discovery.ObjectKeyRef{Name: a.APIKeySecretRef.Name, Key: a.APIKeySecretRef.Key}
	}
	if a.APIKeyConfigMapRef != nil {
		src.ConfigMap = &discovery.ObjectKeyRef{Name: a.APIKeyConfigMapRef.Name, Key: a.APIKeyConfigMapRef.Key}
	}
	return src
}

// SecretKeySelector selects a key from a Kubernetes Secret
type SecretKeySelector struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key,omitempty"`
}

// ConfigMapKeySelector selects a config.xml stored in a ConfigMap
type ConfigMapKeySelector struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key,omitempty"`
}

// CredentialsSecretRef references username/password from a Secret
type CredentialsSecretRef struct {
	Name        string `yaml:"name"`
	UsernameKey string `yaml:"username_key,omitempty"`
	PasswordKey string `yaml:"password_key,omitempty"`
}

// KubernetesConfig is only consulted when a secret or config map reference is used.
type KubernetesConfig struct {
	Namespace string `yaml:"namespace,omitempty"`
}

// NeedsKubernetes reports whether any credential must be read from the cluster.
func (c *Config) NeedsKubernetes() bool {
	if c.Qbit.CredentialsSecretRef != nil {
		return true
	}
	for _, a := range c.Arr {
		if a.APIKeySecretRef != nil || a.APIKeyConfigMapRef != nil {
			return true
		}
	}
	return false
}

// ResolvePath picks the config file location: explicit path, then env, then default.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load reads, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	path = ResolvePath(path)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found", path)
		}
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r, applies defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddress
	}
	if c.Qbit.TimeoutSeconds == 0 {
		c.Qbit.TimeoutSeconds = DefaultClientTimeout
	}
	c.Qbit.URL = strings.TrimRight(c.Qbit.URL, "/")
	if ref := c.Qbit.CredentialsSecretRef; ref != nil {
		if ref.UsernameKey == "" {
			ref.UsernameKey = DefaultUsernameKey
		}
		if ref.PasswordKey == "" {
			ref.PasswordKey = DefaultPasswordKey
		}
	}

	c.Notifications.Provider = strings.ToLower(strings.TrimSpace(c.Notifications.Provider))
	if n := c.Notifications.Ntfy; n != nil && n.Server == "" {
		n.Server = DefaultNtfyServer
	}
	if p := c.Notifications.Pushover; p != nil && p.APIURL == "" {
		p.APIURL = DefaultPushoverAPIURL
	}

	if c.Behavior.DefaultOnError == "" {
		c.Behavior.DefaultOnError = PolicyAllow
	}
	if c.Behavior.PendingTag == "" {
		c.Behavior.PendingTag = DefaultPendingTag
	}
	if c.Behavior.ApprovedTag == "" {
		c.Behavior.ApprovedTag = DefaultApprovedTag
	}

	if c.Kubernetes.Namespace == "" {
		c.Kubernetes.Namespace = DefaultK8sNamespace
	}

	for i := range c.Arr {
		a := &c.Arr[i]
		a.URL = strings.TrimRight(a.URL, "/")
		a.Type = strings.ToLower(a.Type)
		if a.Type == "" {
			a.Type = discovery.InferControllerType(a.Name)
		}
		if a.APIKeySecretRef != nil && a.APIKeySecretRef.Key == "" {
			a.APIKeySecretRef.Key = DefaultSecretKey
		}
		if a.APIKeyConfigMapRef != nil && a.APIKeyConfigMapRef.Key == "" {
			a.APIKeyConfigMapRef.Key = DefaultConfigMapKey
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
