// Package discovery resolves *arr API keys and qBittorrent credentials.
// Keys can be given inline, parsed from an *arr config.xml on disk, or read
// from a Kubernetes Secret or ConfigMap when approvarr runs in-cluster.
package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ArrConfig represents the parsed config.xml structure for *arr applications.
// All *arr apps use a similar config.xml format.
type ArrConfig struct {
	XMLName xml.Name `xml:"Config"`
	ApiKey  string   `xml:"ApiKey"`
	Port    int      `xml:"Port"`
	UrlBase string   `xml:"UrlBase"`
}

// ParseConfigXML parses an *arr config.xml file and extracts configuration.
func ParseConfigXML(r io.Reader) (*ArrConfig, error) {
	var config ArrConfig
	decoder := xml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config.xml: %w", err)
	}
	return &config, nil
}

// ParseConfigXMLFromFile parses an *arr config.xml file from a file path.
// A directory is accepted too; the usual locations inside it are tried.
func ParseConfigXMLFromFile(path string) (*ArrConfig, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		for _, candidate := range DefaultConfigPaths() {
			full := filepath.Join(path, candidate)
			if _, err := os.Stat(full); err == nil {
				path = full
				break
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config.xml: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseConfigXML(f)
}

// ObjectKeyRef points at one key of a namespaced Secret or ConfigMap.
type ObjectKeyRef struct {
	Name string
	Key  string
}

// CredentialSource lists the places an API key may come from, in priority order:
// Literal, Secret, ConfigMap, ConfigPath.
type CredentialSource struct {
	Literal    string
	Secret     *ObjectKeyRef
	ConfigMap  *ObjectKeyRef
	ConfigPath string
}

// ErrNoClient is returned when a cluster reference is used without a Kubernetes client.
var ErrNoClient = errors.New("kubernetes client not configured")

// Resolver turns CredentialSources into concrete values.
// Client may be nil when no cluster references are configured.
type Resolver struct {
	Client    client.Client
	Namespace string
}

// ResolveAPIKey returns the API key described by src.
func (r *Resolver) ResolveAPIKey(ctx context.Context, src CredentialSource) (string, error) {
	switch {
	case src.Literal != "":
		return src.Literal, nil
	case src.Secret != nil:
		return r.SecretValue(ctx, src.Secret.Name, src.Secret.Key)
	case src.ConfigMap != nil:
		if r.Client == nil {
			return "", ErrNoClient
		}
		return DiscoverAPIKeyFromConfigMap(ctx, r.Client, r.Namespace, src.ConfigMap.Name, src.ConfigMap.Key)
	case src.ConfigPath != "":
		cfg, err := ParseConfigXMLFromFile(src.ConfigPath)
		if err != nil {
			return "", err
		}
		if cfg.ApiKey == "" {
			return "", fmt.Errorf("ApiKey is empty in %s", src.ConfigPath)
		}
		return cfg.ApiKey, nil
	}
	return "", fmt.Errorf("no API key source configured")
}

// SecretValue reads a single key from a Secret in the resolver's namespace.
func (r *Resolver) SecretValue(ctx context.Context, name, key string) (string, error) {
	if r.Client == nil {
		return "", ErrNoClient
	}

	var secret corev1.Secret
	if err := r.Client.Get(ctx, client.ObjectKey{Namespace: r.Namespace, Name: name}, &secret); err != nil {
		return "", fmt.Errorf("failed to get Secret %s/%s: %w", r.Namespace, name, err)
	}

	if v, ok := secret.Data[key]; ok {
		return strings.TrimSpace(string(v)), nil
	}
	// StringData is only populated on objects that have not round-tripped the API server
	if v, ok := secret.StringData[key]; ok {
		return strings.TrimSpace(v), nil
	}
	return "", fmt.Errorf("key %q not found in Secret %s/%s", key, r.Namespace, name)
}

// DiscoverAPIKeyFromConfigMap attempts to discover the API key from a ConfigMap.
// This is useful when the config.xml is stored in a ConfigMap (less common).
func DiscoverAPIKeyFromConfigMap(ctx context.Context, k8sClient client.Client, namespace, configMapName, key string) (string, error) {
	var cm corev1.ConfigMap
	if err := k8sClient.Get(ctx, client.ObjectKey{Namespace: namespace, Name: configMapName}, &cm); err != nil {
		return "", fmt.Errorf("failed to get ConfigMap %s/%s: %w", namespace, configMapName, err)
	}

	data, ok := cm.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in ConfigMap %s/%s", key, namespace, configMapName)
	}

	config, err := ParseConfigXML(strings.NewReader(data))
	if err != nil {
		return "", err
	}

	if config.ApiKey == "" {
		return "", fmt.Errorf("ApiKey is empty in config.xml from ConfigMap %s/%s", namespace, configMapName)
	}

	return config.ApiKey, nil
}

// InferControllerType attempts to infer the *arr type from an instance name.
// This is used when the user doesn't explicitly specify the type.
//
// Examples:
//   - "sonarr" -> "sonarr"
//   - "sonarr-4k" -> "sonarr"
//   - "my-radarr" -> "radarr"
//   - "tv" -> ""
func InferControllerType(name string) string {
	name = strings.ToLower(name)

	for _, known := range []string{"sonarr", "radarr"} {
		if strings.Contains(name, known) {
			return known
		}
	}

	// Unable to infer
	return ""
}

// DefaultConfigPaths returns the default paths where *arr apps store their config.xml
// relative to the data directory.
func DefaultConfigPaths() []string {
	return []string{
		"config.xml",
		filepath.Join("config", "config.xml"),
	}
}
