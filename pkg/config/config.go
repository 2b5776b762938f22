/*
Package config parses and validates the declarative configuration
file. It mirrors the plain, tag-annotated struct
style used elsewhere for config records (accesscontrol's
RateLimitConfig and FilterConfig, middleware's HeaderRules and
PathRewrite), decoding YAML via gopkg.in/yaml.v3.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HostConfig is one entry of the top-level "hosts" list.
type HostConfig struct {
	Hostnames   []string `yaml:"hostnames"`
	Certificate string   `yaml:"certificate"`
	PrivateKey  string   `yaml:"privateKey"`
}

// InterfaceConfig names the listening address/port for an endpoint.
type InterfaceConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// MountConfig binds one application under a host+path pattern.
type MountConfig struct {
	Application string `yaml:"application"`
	Hostname    string `yaml:"hostname"`
	Path        string `yaml:"path"`
}

// ServicesConfig names the cross-cutting services an endpoint uses.
type ServicesConfig struct {
	RateLimiter   string `yaml:"rateLimiter,omitempty"`
	RequestLogger string `yaml:"requestLogger,omitempty"`
	AccessControl string `yaml:"accessControl,omitempty"`
}

// ACMEConfig enables automatic certificate provisioning in addition
// to (or instead of) static host certificates.
type ACMEConfig struct {
	Hostnames    []string `yaml:"hostnames"`
	Email        string   `yaml:"email"`
	DirectoryURL string   `yaml:"directoryURL,omitempty"`
}

// EndpointConfig is one entry of the top-level "endpoints" list.
type EndpointConfig struct {
	Name      string          `yaml:"name"`
	Hostnames []string        `yaml:"hostnames"`
	Interface InterfaceConfig `yaml:"interface"`
	Protocol  string          `yaml:"protocol"`
	Mounts    []MountConfig   `yaml:"mounts"`
	Services  ServicesConfig  `yaml:"services"`
}

// ClassConfig is a named, class-selected component: an application or
// a service. Args holds the class-specific remainder of the YAML map.
type ClassConfig struct {
	Name  string         `yaml:"name"`
	Class string         `yaml:"class"`
	Args  map[string]any `yaml:",inline"`
}

// Config is the whole configuration file's root document.
type Config struct {
	Hosts        []HostConfig     `yaml:"hosts"`
	ACME         *ACMEConfig      `yaml:"acme,omitempty"`
	Endpoints    []EndpointConfig `yaml:"endpoints"`
	Applications []ClassConfig    `yaml:"applications"`
	Services     []ClassConfig    `yaml:"services"`
}

// DecodeArgs re-marshals a ClassConfig's inline class-specific args
// into a typed config struct, applying the same yaml tags the rest of
// the file uses.
func DecodeArgs(args map[string]any, out any) error {
	data, err := yaml.Marshal(args)
	if err != nil {
		return fmt.Errorf("config: re-marshaling class args: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: decoding class args: %w", err)
	}
	return nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the file's structural and semantic invariants:
// unique names within each kind, non-empty required fields.
func (c *Config) Validate() error {
	endpointNames := make(map[string]bool)
	for _, e := range c.Endpoints {
		if e.Name == "" {
			return fmt.Errorf("config: endpoint missing name")
		}
		if endpointNames[e.Name] {
			return fmt.Errorf("config: duplicate endpoint name %q", e.Name)
		}
		endpointNames[e.Name] = true

		switch e.Protocol {
		case "http", "https", "http2":
		default:
			return fmt.Errorf("config: endpoint %q has invalid protocol %q", e.Name, e.Protocol)
		}
	}

	appNames := make(map[string]bool)
	for _, a := range c.Applications {
		if a.Name == "" || a.Class == "" {
			return fmt.Errorf("config: application missing name or class")
		}
		if appNames[a.Name] {
			return fmt.Errorf("config: duplicate application name %q", a.Name)
		}
		appNames[a.Name] = true
	}

	svcNames := make(map[string]bool)
	for _, s := range c.Services {
		if s.Name == "" || s.Class == "" {
			return fmt.Errorf("config: service missing name or class")
		}
		if svcNames[s.Name] {
			return fmt.Errorf("config: duplicate service name %q", s.Name)
		}
		svcNames[s.Name] = true
	}

	return nil
}
