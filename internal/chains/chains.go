// Package chains holds the chain registry. Chain definitions are read once
// from a YAML file at startup; the registry is immutable afterwards and is
// passed explicitly to every component that needs chain access.
package chains

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Chain describes one supported network.
type Chain struct {
	ID   string   `yaml:"id"` // decimal chain id, e.g. "1"
	Name string   `yaml:"name"`
	RPCs []string `yaml:"rpcs"`

	// ContractCreationURL is an explorer endpoint template containing the
	// placeholder ${ADDRESS}. It is queried to discover the transaction that
	// created a contract when the caller did not supply one.
	ContractCreationURL string `yaml:"contract_creation_url"`
	// CreationFormat selects how the endpoint response is parsed:
	// "etherscan" (JSON result list) or "scrape" (first tx hash in the body).
	CreationFormat string `yaml:"creation_format"`
}

// Registry is the immutable set of configured chains.
type Registry struct {
	chains map[string]Chain
}

type registryFile struct {
	Chains []Chain `yaml:"chains"`
}

// LoadRegistry reads chain definitions from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chains file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry builds a registry from YAML content.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing chains file: %w", err)
	}

	chains := make(map[string]Chain, len(file.Chains))
	for _, c := range file.Chains {
		if c.ID == "" {
			return nil, fmt.Errorf("chain %q has no id", c.Name)
		}
		if _, dup := chains[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chain id %s", c.ID)
		}
		chains[c.ID] = c
	}

	return &Registry{chains: chains}, nil
}

// NewRegistry builds a registry from explicit chain values. Used in tests and
// by callers that configure chains programmatically.
func NewRegistry(cs ...Chain) *Registry {
	chains := make(map[string]Chain, len(cs))
	for _, c := range cs {
		chains[c.ID] = c
	}
	return &Registry{chains: chains}
}

// Get retrieves a chain by id.
func (r *Registry) Get(id string) (Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// List returns all configured chains sorted by id.
func (r *Registry) List() []Chain {
	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
