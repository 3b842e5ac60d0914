package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GeneratorBackend selects the code generator implementation.
type GeneratorBackend string

const (
	// GeneratorBackendScaffold emits deterministic templates.
	GeneratorBackendScaffold GeneratorBackend = "scaffold"
	// GeneratorBackendOpenAI asks an OpenAI compatible chat model.
	GeneratorBackendOpenAI GeneratorBackend = "openai"
)

// GeneratorConfig contains generator configuration.
type GeneratorConfig struct {
	Backend GeneratorBackend `env:"GENERATOR_BACKEND" envDefault:"scaffold"`

	// PackagePrefix is used for JVM package names of scaffolded apps.
	PackagePrefix string `env:"GENERATOR_PACKAGE_PREFIX" envDefault:"com.appgen"`

	OpenAI OpenAIConfig `envPrefix:"OPENAI_"`
}

// OpenAIConfig configures the openai generator backend.
type OpenAIConfig struct {
	APIKey     string        `env:"API_KEY"`
	BaseURL    string        `env:"BASE_URL"`
	Model      string        `env:"MODEL"       envDefault:"gpt-4o-mini"`
	Timeout    time.Duration `env:"TIMEOUT"     envDefault:"2m"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"3"`
}

// Sanitize normalises the backend name and clamps retry settings.
func (g *GeneratorConfig) Sanitize() {
	g.Backend = GeneratorBackend(strings.ToLower(strings.TrimSpace(string(g.Backend))))
	if g.Backend == "" {
		g.Backend = GeneratorBackendScaffold
	}
	g.OpenAI.APIKey = strings.TrimSpace(g.OpenAI.APIKey)
	if g.OpenAI.MaxRetries < 0 {
		g.OpenAI.MaxRetries = 0
	}
	if g.OpenAI.MaxRetries > 10 {
		g.OpenAI.MaxRetries = 10
	}
	if g.OpenAI.Timeout < time.Second {
		g.OpenAI.Timeout = time.Second
	}
}

// Validate rejects unknown backends and an openai backend without a key.
func (g *GeneratorConfig) Validate() error {
	switch g.Backend {
	case GeneratorBackendScaffold:
		return nil
	case GeneratorBackendOpenAI:
		if g.OpenAI.APIKey == "" {
			return errors.New("GENERATOR_BACKEND=openai requires OPENAI_API_KEY")
		}
		return nil
	default:
		return fmt.Errorf("invalid GENERATOR_BACKEND: %q (valid options: scaffold, openai)", g.Backend)
	}
}

// SourceConfig controls which repositories may be analyzed.
type SourceConfig struct {
	// AllowedHosts restricts source URLs by registrable domain. Empty allows any host.
	AllowedHosts []string `env:"SOURCE_ALLOWED_HOSTS" envDefault:"github.com,gitlab.com,bitbucket.org"`

	// AllowFileURLs permits file:// sources; intended for development.
	AllowFileURLs bool `env:"SOURCE_ALLOW_FILE_URLS" envDefault:"false"`

	CloneDepth int `env:"SOURCE_CLONE_DEPTH" envDefault:"1"`
	MaxFiles   int `env:"SOURCE_MAX_FILES"   envDefault:"5000"`
}

// Sanitize trims host names and clamps clone settings.
func (s *SourceConfig) Sanitize() {
	hosts := s.AllowedHosts[:0]
	for _, h := range s.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	s.AllowedHosts = hosts
	if s.CloneDepth < 1 {
		s.CloneDepth = 1
	}
	if s.MaxFiles < 1 {
		s.MaxFiles = 1
	}
	if s.MaxFiles > 100000 {
		s.MaxFiles = 100000
	}
}
