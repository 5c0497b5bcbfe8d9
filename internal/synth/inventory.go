package synth

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"gopkg.in/yaml.v3"
)

// Resource is one registered resource as the engine saw it.
type Resource struct {
	Type      string                 `json:"type" yaml:"type"`
	Name      string                 `json:"name" yaml:"name"`
	Parent    string                 `json:"parent,omitempty" yaml:"parent,omitempty"`
	DependsOn []string               `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Inputs    map[string]interface{} `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Input walks nested object inputs along path and returns the value found,
// or nil when any step is missing.
func (r Resource) Input(path ...string) interface{} {
	var cur interface{} = r.Inputs
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// Text is Input formatted as a string, "" when absent.
func (r Resource) Text(path ...string) string {
	v := r.Input(path...)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Inventory is the complete, deterministically ordered result of a run.
type Inventory struct {
	Project   string     `json:"project" yaml:"project"`
	Stack     string     `json:"stack" yaml:"stack"`
	Resources []Resource `json:"resources" yaml:"resources"`
}

// OfType returns the resources with the given type token.
func (inv *Inventory) OfType(token string) []Resource {
	var out []Resource
	for _, r := range inv.Resources {
		if r.Type == token {
			out = append(out, r)
		}
	}
	return out
}

// Get returns the resource with the given logical name.
func (inv *Inventory) Get(name string) (Resource, bool) {
	for _, r := range inv.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// Counts returns the number of resources per type token.
func (inv *Inventory) Counts() map[string]int {
	counts := make(map[string]int)
	for _, r := range inv.Resources {
		counts[r.Type]++
	}
	return counts
}

// YAML renders the inventory as YAML.
func (inv *Inventory) YAML() ([]byte, error) {
	return yaml.Marshal(inv)
}

// JSON renders the inventory as indented JSON.
func (inv *Inventory) JSON() ([]byte, error) {
	return json.MarshalIndent(inv, "", "  ")
}

// Options selects the project, stack and configuration of a mock run.
type Options struct {
	Project string
	Stack   string
	// Config holds fully qualified keys, e.g. "aws:region".
	Config map[string]string
	Region string
}

// Synthesize runs program against a Recorder and returns what it registered.
// Errors returned by program, or by any apply inside it, fail the run.
func Synthesize(opts Options, program pulumi.RunFunc) (*Inventory, error) {
	region := opts.Region
	if region == "" {
		region = opts.Config["aws:region"]
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg := make(map[string]string, len(opts.Config)+1)
	for k, v := range opts.Config {
		cfg[k] = v
	}
	if _, ok := cfg["aws:region"]; !ok {
		cfg["aws:region"] = region
	}

	rec := NewRecorder(region)
	withConfig := func(info *pulumi.RunInfo) {
		info.Config = cfg
	}

	err := pulumi.RunErr(program, pulumi.WithMocks(opts.Project, opts.Stack, rec), withConfig)
	if err != nil {
		return nil, fmt.Errorf("synthesizing %s/%s: %w", opts.Project, opts.Stack, err)
	}

	return &Inventory{
		Project:   opts.Project,
		Stack:     opts.Stack,
		Resources: rec.Resources(),
	}, nil
}
