package gateway

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-faster/errors"
)

// Config selects and configures the providers of one payment service.
type Config struct {
	// Default is the provider used for new payments. The sandbox name also
	// selects the direct sandbox when Sandbox.Direct is set.
	Default string `default:"sandbox" usage:"provider for new payments"`
	Sandbox SandboxConfig
	Hosted  HostedConfig
}

type SandboxConfig struct {
	Enabled    bool          `default:"true"`
	Direct     bool          `default:"false" usage:"settle by direct charge instead of webhooks"`
	Secret     string        `default:"sandbox-secret"`
	SessionTTL time.Duration `env:"SESSION_TTL" default:"30m"`
}

type HostedConfig struct {
	Enabled    bool          `default:"false"`
	BaseURL    string        `env:"BASE_URL" default:""`
	APIKey     string        `env:"API_KEY" default:""`
	Secret     string        `default:"" usage:"webhook signing secret"`
	SessionTTL time.Duration `env:"SESSION_TTL" default:"30m"`
	Timeout    time.Duration `default:"10s"`
}

type provider struct {
	gw     Gateway
	secret []byte
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]provider
	def       string
}

func NewRegistry(def string) *Registry {
	return &Registry{providers: make(map[string]provider), def: def}
}

// Register adds gw under its name with the secret verifying its webhooks.
func (r *Registry) Register(gw Gateway, secret []byte) {
	r.providers[gw.Name()] = provider{gw: gw, secret: secret}
}

// FromConfig builds the registry of every enabled provider.
func FromConfig(cfg Config) (*Registry, error) {
	def := cfg.Default
	if cfg.Sandbox.Enabled && cfg.Sandbox.Direct && def == NameSandbox {
		def = NameSandboxDirect
	}
	r := NewRegistry(def)
	if cfg.Sandbox.Enabled {
		sb := NewSandbox(NameSandbox, cfg.Sandbox.SessionTTL)
		if cfg.Sandbox.Direct {
			r.Register(NewDirect(sb), []byte(cfg.Sandbox.Secret))
		} else {
			r.Register(sb, []byte(cfg.Sandbox.Secret))
		}
	}
	if cfg.Hosted.Enabled {
		if cfg.Hosted.BaseURL == "" || cfg.Hosted.Secret == "" {
			return nil, errors.New("hosted provider needs base url and webhook secret")
		}
		r.Register(NewHosted(HostedOptions{
			BaseURL:    cfg.Hosted.BaseURL,
			APIKey:     cfg.Hosted.APIKey,
			SessionTTL: cfg.Hosted.SessionTTL,
			Client:     &http.Client{Timeout: cfg.Hosted.Timeout},
		}), []byte(cfg.Hosted.Secret))
	}
	if _, err := r.Get(def); err != nil {
		return nil, errors.Wrapf(err, "default provider %q", def)
	}
	return r, nil
}

func (r *Registry) Get(name string) (Gateway, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownProvider, name)
	}
	return p.gw, nil
}

func (r *Registry) Default() (Gateway, error) { return r.Get(r.def) }

// Names lists registered providers.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Verify checks the webhook signature of provider.
func (r *Registry) Verify(name string, body []byte, sig string) error {
	p, ok := r.providers[name]
	if !ok {
		return errors.Wrap(ErrUnknownProvider, name)
	}
	if !Verify(p.secret, body, sig) {
		return ErrBadSignature
	}
	return nil
}
