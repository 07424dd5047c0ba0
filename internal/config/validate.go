package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigurationError collects every problem found while validating a config.
// It is only ever produced at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) addf(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks required fields and enumerations.
func (c *Config) Validate() error {
	errs := &ConfigurationError{}

	if c.Qbit.URL == "" {
		errs.addf("qbit.url is required")
	} else if !isHTTPURL(c.Qbit.URL) {
		errs.addf("qbit.url %q must be an http(s) URL", c.Qbit.URL)
	}
	if c.Qbit.CredentialsSecretRef == nil && c.Qbit.Username == "" {
		errs.addf("qbit.username or qbit.credentials_secret_ref is required")
	}
	if ref := c.Qbit.CredentialsSecretRef; ref != nil && ref.Name == "" {
		errs.addf("qbit.credentials_secret_ref.name is required")
	}

	if u := c.Server.PublicURL(); u != "" && !isHTTPURL(u) {
		errs.addf("server.external_url %q must be an http(s) URL", u)
	}

	c.validateNotifications(errs)

	if !c.Behavior.DefaultOnError.Valid() {
		errs.addf("behavior.default_on_error must be one of %v, got %q", ValidPolicies, c.Behavior.DefaultOnError)
	}
	if c.Behavior.CreationDelaySeconds != nil && *c.Behavior.CreationDelaySeconds < 0 {
		errs.addf("behavior.creation_delay_seconds must not be negative")
	}
	if c.Behavior.RegistrationTimeoutSeconds < 0 {
		errs.addf("behavior.registration_timeout_seconds must not be negative")
	}

	for i, r := range c.Rules {
		name := r.Name
		if name == "" {
			errs.addf("rules[%d].name is required", i)
			name = fmt.Sprintf("#%d", i)
		}
		if len(r.Apps) == 0 {
			errs.addf("rule %q must list at least one app", name)
		}
		if r.OnError != "" && !r.OnError.Valid() {
			errs.addf("rule %q has invalid on_error %q", name, r.OnError)
		}
	}

	for i, a := range c.Arr {
		name := a.Name
		if name == "" {
			errs.addf("arr[%d].name is required", i)
			name = fmt.Sprintf("#%d", i)
		}
		if a.URL == "" {
			errs.addf("arr %q: url is required", name)
		} else if !isHTTPURL(a.URL) {
			errs.addf("arr %q: url %q must be an http(s) URL", name, a.URL)
		}
		if a.Type != ArrTypeSonarr && a.Type != ArrTypeRadarr {
			errs.addf("arr %q: type must be %q or %q, got %q", name, ArrTypeSonarr, ArrTypeRadarr, a.Type)
		}
		if a.APIKey == "" && a.ConfigPath == "" && a.APIKeySecretRef == nil && a.APIKeyConfigMapRef == nil {
			errs.addf("arr %q: one of api_key, config_path, api_key_secret_ref or api_key_config_map_ref is required", name)
		}
	}

	if len(errs.Problems) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateNotifications(errs *ConfigurationError) {
	n := c.Notifications
	switch n.Provider {
	case "":
		// notifications disabled
	case ProviderPushover:
		if n.Pushover == nil || n.Pushover.Token == "" || n.Pushover.User == "" {
			errs.addf("notifications.pushover.token and notifications.pushover.user are required")
		}
	case ProviderNtfy:
		if n.Ntfy == nil || n.Ntfy.Topic == "" {
			errs.addf("notifications.ntfy.topic is required")
		}
	case ProviderDiscord:
		if n.Discord == nil || n.Discord.WebhookURL == "" {
			errs.addf("notifications.discord.webhook_url is required")
		}
	case ProviderTelegram:
		if n.Telegram == nil || n.Telegram.Token == "" || n.Telegram.ChatID == 0 {
			errs.addf("notifications.telegram.token and notifications.telegram.chat_id are required")
		}
	default:
		errs.addf("unknown notification provider %q", n.Provider)
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
