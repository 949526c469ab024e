package jsonservice

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	masterminds "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Manifest declares many services at once, typically loaded from YAML:
//
//	requires: ">= 0.3.0"
//	prefix: com.example.commands.
//	services:
//	  - name: find_user
//	    path: user.find
//	    required: [id]
//	    defaults: {limit: 10}
//	    cached: true
//	    cache_time: 30s
//	    timeout: 2s
//	    retries: 1
//	fakes:
//	  - name: ping
//	    json: '{"ok":1}'
type Manifest struct {
	// Requires is a semver constraint the library Version must satisfy.
	Requires string `yaml:"requires"`
	// Prefix, when set, overrides the registry prefix for short paths.
	Prefix   string            `yaml:"prefix"`
	Services []ManifestService `yaml:"services"`
	Fakes    []ManifestFake    `yaml:"fakes"`
}

// ManifestService is the YAML form of a ServiceDefinition. Durations are
// Go duration strings.
type ManifestService struct {
	Name            string         `yaml:"name"`
	Path            string         `yaml:"path"`
	Defaults        map[string]any `yaml:"defaults"`
	Required        []string       `yaml:"required"`
	Cached          bool           `yaml:"cached"`
	CacheTime       string         `yaml:"cache_time"`
	Encrypted       bool           `yaml:"encrypted"`
	AuthCert        string         `yaml:"auth_cert"`
	AuthKey         string         `yaml:"auth_key"`
	AuthKeyPassword string         `yaml:"auth_key_password"`
	Timeout         string         `yaml:"timeout"`
	Retries         *int           `yaml:"retries"`
}

// ManifestFake declares a canned service.
type ManifestFake struct {
	Name string `yaml:"name"`
	JSON string `yaml:"json"`
}

// LoadManifest decodes a YAML manifest and validates it.
func LoadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFile reads and decodes the manifest at path.
func LoadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}

// Validate checks names are present and unique and durations parse.
func (m *Manifest) Validate() error {
	var problems []string
	seen := make(map[string]bool)

	if err := checkRequires(m.Requires, Version); err != nil {
		problems = append(problems, err.Error())
	}

	check := func(name string) {
		if name == "" {
			problems = append(problems, "service without a name")
			return
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("duplicate service %s", name))
		}
		seen[name] = true
	}

	for _, s := range m.Services {
		check(s.Name)
		if s.Path == "" {
			problems = append(problems, fmt.Sprintf("service %s has no path", s.Name))
		}
		if _, err := parseManifestDuration(s.CacheTime); err != nil {
			problems = append(problems, fmt.Sprintf("service %s: cache_time: %v", s.Name, err))
		}
		if _, err := parseManifestDuration(s.Timeout); err != nil {
			problems = append(problems, fmt.Sprintf("service %s: timeout: %v", s.Name, err))
		}
		if s.Retries != nil && *s.Retries < 0 {
			problems = append(problems, fmt.Sprintf("service %s: retries must be non-negative", s.Name))
		}
	}
	for _, f := range m.Fakes {
		check(f.Name)
	}

	if len(problems) > 0 {
		return &Error{
			Kind:    KindValidation,
			Message: "manifest validation failed",
			Cause:   fmt.Errorf("%s", strings.Join(problems, "; ")),
		}
	}
	return nil
}

// Definitions converts the manifest services to definitions.
func (m *Manifest) Definitions() ([]ServiceDefinition, error) {
	defs := make([]ServiceDefinition, 0, len(m.Services))
	for _, s := range m.Services {
		cacheTime, err := parseManifestDuration(s.CacheTime)
		if err != nil {
			return nil, fmt.Errorf("service %s: cache_time: %w", s.Name, err)
		}
		timeout, err := parseManifestDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("service %s: timeout: %w", s.Name, err)
		}
		var defaults Args
		if len(s.Defaults) > 0 {
			defaults = Args(s.Defaults)
		}
		defs = append(defs, ServiceDefinition{
			Name:            s.Name,
			Path:            s.Path,
			Defaults:        defaults,
			Required:        s.Required,
			Cached:          s.Cached,
			CacheTime:       cacheTime,
			Encrypted:       s.Encrypted,
			AuthCert:        s.AuthCert,
			AuthKey:         s.AuthKey,
			AuthKeyPassword: s.AuthKeyPassword,
			Timeout:         timeout,
			Retries:         s.Retries,
		})
	}
	return defs, nil
}

// Register defines every manifest service and fake on reg. A manifest
// prefix replaces the registry prefix for its own services only.
func (m *Manifest) Register(reg *Registry) ([]*Service, error) {
	defs, err := m.Definitions()
	if err != nil {
		return nil, err
	}

	prefix := reg.prefix
	if m.Prefix != "" {
		prefix = m.Prefix
	}

	services := make([]*Service, 0, len(defs)+len(m.Fakes))
	for _, def := range defs {
		svc, err := reg.define(def, prefix)
		if err != nil {
			return services, err
		}
		services = append(services, svc)
	}
	for _, f := range m.Fakes {
		svc, err := reg.Fake(f.Name, f.JSON)
		if err != nil {
			return services, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func parseManifestDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// checkRequires reports whether version satisfies the constraint. An empty
// constraint accepts every version.
func checkRequires(constraint, version string) error {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("requires: invalid constraint %q: %v", constraint, err)
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return fmt.Errorf("requires: invalid library version %q: %v", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("requires %s but library is %s", constraint, version)
	}
	return nil
}
