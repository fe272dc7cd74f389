package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	defaultJobCPU    = 2
	defaultJobMemory = 4
	defaultAppName   = "nemo-guardrails-server"
	defaultAppCPU    = 4
	defaultAppMemory = 16
)

// Manifest is the declarative description of a deployment: where the code
// lives, which jobs prepare it, and which application serves it.
type Manifest struct {
	Project     *ProjectSpec     `yaml:"project" hcl:"project,block"`
	Jobs        []JobSpec        `yaml:"jobs" hcl:"job,block"`
	Application *ApplicationSpec `yaml:"application" hcl:"application,block"`
}

type ProjectSpec struct {
	Name        string `yaml:"name" hcl:"name"`
	GitURL      string `yaml:"git_url" hcl:"git_url"`
	Description string `yaml:"description" hcl:"description,optional"`
}

// JobSpec is one unit of setup work. Jobs must be declared after their parent.
type JobSpec struct {
	Name              string            `yaml:"name" hcl:"name,label"`
	Script            string            `yaml:"script" hcl:"script"`
	Args              []string          `yaml:"args" hcl:"args,optional"`
	Parent            string            `yaml:"parent" hcl:"parent,optional"`
	CPU               float64           `yaml:"cpu" hcl:"cpu,optional"`
	Memory            float64           `yaml:"memory" hcl:"memory,optional"`
	GPU               int               `yaml:"gpu" hcl:"gpu,optional"`
	RuntimeIdentifier string            `yaml:"runtime_identifier" hcl:"runtime_identifier,optional"`
	Environment       map[string]string `yaml:"environment" hcl:"environment,optional"`
	TimeoutSeconds    int64             `yaml:"timeout_seconds" hcl:"timeout_seconds,optional"`
}

type ApplicationSpec struct {
	Name                 string            `yaml:"name" hcl:"name,optional"`
	Description          string            `yaml:"description" hcl:"description,optional"`
	Subdomain            string            `yaml:"subdomain" hcl:"subdomain,optional"`
	Script               string            `yaml:"script" hcl:"script"`
	CPU                  float64           `yaml:"cpu" hcl:"cpu,optional"`
	Memory               float64           `yaml:"memory" hcl:"memory,optional"`
	GPU                  int               `yaml:"gpu" hcl:"gpu,optional"`
	RuntimeIdentifier    string            `yaml:"runtime_identifier" hcl:"runtime_identifier,optional"`
	BypassAuthentication *bool             `yaml:"bypass_authentication" hcl:"bypass_authentication,optional"`
	Environment          map[string]string `yaml:"environment" hcl:"environment,optional"`
}

// LoadManifest reads a YAML (.yaml, .yml) or HCL (.hcl) manifest, fills in
// defaults and validates it.
func LoadManifest(path string) (*Manifest, error) {
	m := new(Manifest)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		if err := hclsimple.DecodeFile(path, nil, m); err != nil {
			return nil, fmt.Errorf("decode manifest %s: %w", path, err)
		}
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(b, m, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("decode manifest %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", filepath.Ext(path))
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) applyDefaults() {
	for i := range m.Jobs {
		if m.Jobs[i].CPU == 0 {
			m.Jobs[i].CPU = defaultJobCPU
		}
		if m.Jobs[i].Memory == 0 {
			m.Jobs[i].Memory = defaultJobMemory
		}
	}
	if a := m.Application; a != nil {
		if a.Name == "" {
			a.Name = defaultAppName
		}
		if a.CPU == 0 {
			a.CPU = defaultAppCPU
		}
		if a.Memory == 0 {
			a.Memory = defaultAppMemory
		}
		if a.BypassAuthentication == nil {
			bypass := true
			a.BypassAuthentication = &bypass
		}
	}
}

// Validate checks everything that can be checked without the platform.
func (m *Manifest) Validate() error {
	if m.Project != nil {
		if strings.TrimSpace(m.Project.Name) == "" {
			return &ManifestError{Field: "project.name", Message: "is required"}
		}
		if strings.TrimSpace(m.Project.GitURL) == "" {
			return &ManifestError{Field: "project.git_url", Message: "is required"}
		}
	}
	if err := ValidateJobOrder(m.Jobs); err != nil {
		return err
	}
	if a := m.Application; a != nil {
		if strings.TrimSpace(a.Script) == "" {
			return &ManifestError{Field: "application.script", Message: "is required"}
		}
		if a.CPU < 0 || a.Memory < 0 || a.GPU < 0 {
			return &ManifestError{Field: "application", Message: "resources must not be negative"}
		}
	}
	return nil
}

// ValidateJobOrder rejects empty or duplicate names, negative resources and
// any parent that is not declared earlier in specs.
func ValidateJobOrder(specs []JobSpec) error {
	declared := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		field := fmt.Sprintf("jobs[%d]", i)
		if strings.TrimSpace(spec.Name) == "" {
			return &ManifestError{Field: field + ".name", Message: "is required"}
		}
		if _, dup := declared[spec.Name]; dup {
			return &ManifestError{Field: field + ".name", Message: fmt.Sprintf("%q is declared twice", spec.Name)}
		}
		if strings.TrimSpace(spec.Script) == "" {
			return &ManifestError{Field: field + ".script", Message: "is required"}
		}
		if spec.CPU < 0 || spec.Memory < 0 || spec.GPU < 0 || spec.TimeoutSeconds < 0 {
			return &ManifestError{Field: field, Message: "resources and timeout must not be negative"}
		}
		if spec.Parent != "" {
			if _, ok := declared[spec.Parent]; !ok {
				return &DependencyOrderError{Job: spec.Name, Parent: spec.Parent, Index: i}
			}
		}
		declared[spec.Name] = struct{}{}
	}
	return nil
}

func (m *Manifest) JobNames() []string {
	names := make([]string, len(m.Jobs))
	for i, j := range m.Jobs {
		names[i] = j.Name
	}
	return names
}
