//go:build e2e
// +build e2e

/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package containers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/internal/discovery"
)

// ArrContainer wraps a testcontainer for Sonarr or Radarr
type ArrContainer struct {
	Container testcontainers.Container
	Type      string
	Host      string
	Port      string
	APIKey    string
}

// URL returns the base URL of the web UI and API
func (c *ArrContainer) URL() string {
	return fmt.Sprintf("http://%s:%s", c.Host, c.Port)
}

// Terminate stops and removes the container
func (c *ArrContainer) Terminate(ctx context.Context) error {
	if c.Container != nil {
		return c.Container.Terminate(ctx)
	}
	return nil
}

// Options configures a container start
type Options struct {
	// ImageTag is the Docker image tag to use (default: "latest")
	ImageTag string
	// StartupTimeout is how long to wait for the container to be ready
	StartupTimeout time.Duration
}

func (o Options) withDefaults(timeout time.Duration) Options {
	if o.ImageTag == "" {
		o.ImageTag = "latest"
	}
	if o.StartupTimeout == 0 {
		o.StartupTimeout = timeout
	}
	return o
}

func arrPort(arrType string) string {
	if arrType == config.ArrTypeRadarr {
		return "7878"
	}
	return "8989"
}

// StartArr starts a linuxserver Sonarr or Radarr container and reads its API key
func StartArr(ctx context.Context, arrType string, opts Options) (*ArrContainer, error) {
	opts = opts.withDefaults(3 * time.Minute)
	natPort := nat.Port(arrPort(arrType) + "/tcp")

	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("lscr.io/linuxserver/%s:%s", arrType, opts.ImageTag),
		ExposedPorts: []string{string(natPort)},
		Env: map[string]string{
			"PUID": "1000",
			"PGID": "1000",
			"TZ":   "Etc/UTC",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(natPort),
			wait.ForHTTP("/").
				WithPort(natPort).
				WithStatusCodeMatcher(func(status int) bool {
					return status == http.StatusOK || status == http.StatusFound || status == http.StatusMovedPermanently
				}),
		).WithDeadline(opts.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w", arrType, err)
	}

	host, port, err := endpoint(ctx, container, natPort)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	apiKey, err := waitForAPIKey(ctx, container, opts.StartupTimeout)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to extract API key: %w", err)
	}

	return &ArrContainer{
		Container: container,
		Type:      arrType,
		Host:      host,
		Port:      port,
		APIKey:    apiKey,
	}, nil
}

// waitForAPIKey polls config.xml until the application has written its key
func waitForAPIKey(ctx context.Context, container testcontainers.Container, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		for _, path := range discovery.DefaultConfigPaths() {
			content, err := readFile(ctx, container, "/config/"+strings.TrimPrefix(path, "/"))
			if err != nil {
				lastErr = err
				continue
			}
			cfg, err := discovery.ParseConfigXML(bytes.NewReader(content))
			if err != nil {
				lastErr = err
				continue
			}
			if cfg.ApiKey != "" {
				return cfg.ApiKey, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	return "", fmt.Errorf("timed out waiting for API key: %v", lastErr)
}

func readFile(ctx context.Context, container testcontainers.Container, path string) ([]byte, error) {
	exitCode, reader, err := container.Exec(ctx, []string{"cat", path})
	if err != nil {
		return nil, fmt.Errorf("failed to exec cat: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("cat %s failed with exit code %d", path, exitCode)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	// exec output carries a multiplexing header before the file
	if i := bytes.IndexByte(content, '<'); i > 0 {
		content = content[i:]
	}
	return content, nil
}

// QbittorrentContainer wraps a testcontainer for qBittorrent
type QbittorrentContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
	Username  string
	Password  string
}

// URL returns the WebUI base URL
func (c *QbittorrentContainer) URL() string {
	return fmt.Sprintf("http://%s:%s", c.Host, c.Port)
}

// Terminate stops and removes the container
func (c *QbittorrentContainer) Terminate(ctx context.Context) error {
	if c.Container != nil {
		return c.Container.Terminate(ctx)
	}
	return nil
}

var temporaryPassword = regexp.MustCompile(`temporary password is provided for this session: (\S+)`)

// StartQbittorrent starts a linuxserver qBittorrent container. Recent images
// print a one-off WebUI password to the log; it is read from there.
func StartQbittorrent(ctx context.Context, opts Options) (*QbittorrentContainer, error) {
	opts = opts.withDefaults(2 * time.Minute)
	webPort := nat.Port("8080/tcp")

	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("lscr.io/linuxserver/qbittorrent:%s", opts.ImageTag),
		ExposedPorts: []string{string(webPort)},
		Env: map[string]string{
			"PUID":       "1000",
			"PGID":       "1000",
			"TZ":         "Etc/UTC",
			"WEBUI_PORT": "8080",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(webPort),
			wait.ForLog("temporary password"),
		).WithDeadline(opts.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start qbittorrent container: %w", err)
	}

	host, port, err := endpoint(ctx, container, webPort)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	logs, err := container.Logs(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to read qbittorrent logs: %w", err)
	}
	defer func() { _ = logs.Close() }()
	content, err := io.ReadAll(logs)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to read qbittorrent logs: %w", err)
	}
	match := temporaryPassword.FindSubmatch(content)
	if match == nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("qbittorrent did not log a WebUI password")
	}

	return &QbittorrentContainer{
		Container: container,
		Host:      host,
		Port:      port,
		Username:  "admin",
		Password:  string(match[1]),
	}, nil
}

func endpoint(ctx context.Context, container testcontainers.Container, port nat.Port) (string, string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", "", fmt.Errorf("failed to get mapped port: %w", err)
	}
	return host, mapped.Port(), nil
}
