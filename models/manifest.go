package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// Manifest is the declarative description of a cluster: a set of named
// containers, each with the image it runs and the stage it should reach.
//
// Invariant: no two containers may claim the same host port. Every mutation
// and every load re-validates the whole manifest.
//
// Example JSON representation:
//
//	{
//	  "containers": {
//	    "web": {
//	      "uri": "nginx:1.27",
//	      "port_mappings": [[80, 8080]],
//	      "command": "Run"
//	    }
//	  }
//	}
type Manifest struct {
	Containers map[string]ContainerSpec `json:"containers" yaml:"containers"`
}

// ContainerSpec describes one container of a manifest.
type ContainerSpec struct {
	URI          string            `json:"uri" yaml:"uri" validate:"required"`                                       // Image reference
	PortMappings []PortMapping     `json:"port_mappings" yaml:"port_mappings,omitempty" validate:"dive"`             // (container, host) pairs
	Command      Command           `json:"command" yaml:"command" validate:"required"`                               // Target lifecycle stage
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty" validate:"dive,keys,required,endkeys"` // Environment variables
	Mounts       []MountDescriptor `json:"mounts,omitempty" yaml:"mounts,omitempty" validate:"dive"`                 // Mounts
}

// PortMapping publishes ContainerPort on HostPort.
// It is encoded as a two-element array: [container_port, host_port].
type PortMapping struct {
	ContainerPort uint16 `validate:"min=1"`
	HostPort      uint16 `validate:"min=1"`
}

// NewManifest builds a manifest from the given containers and validates it.
func NewManifest(containers map[string]ContainerSpec) (*Manifest, error) {
	m := &Manifest{Containers: containers}
	if m.Containers == nil {
		m.Containers = make(map[string]ContainerSpec)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EmptyManifest returns a manifest with no containers.
func EmptyManifest() *Manifest {
	return &Manifest{Containers: make(map[string]ContainerSpec)}
}

// Validate checks the manifest invariants.
func (m *Manifest) Validate() error {
	seen := make(map[uint16]string)
	for _, name := range m.Names() {
		spec := m.Containers[name]
		if name == "" {
			return &ManifestError{Message: "container name must not be empty"}
		}
		if spec.URI == "" {
			return &ManifestError{Message: fmt.Sprintf("container '%s' has no image uri", name)}
		}
		if !spec.Command.Valid() {
			return &ManifestError{Message: fmt.Sprintf("container '%s' has unknown command %q", name, spec.Command)}
		}
		for _, pm := range spec.PortMappings {
			if pm.ContainerPort == 0 || pm.HostPort == 0 {
				return &ManifestError{Message: fmt.Sprintf("container '%s' has a zero port in mapping %s", name, pm)}
			}
			if owner, taken := seen[pm.HostPort]; taken {
				return &ManifestError{Message: fmt.Sprintf(
					"host port %d for container '%s' is already used by container '%s'", pm.HostPort, name, owner)}
			}
			seen[pm.HostPort] = name
		}
		for _, mount := range spec.Mounts {
			if err := mount.Validate(); err != nil {
				return &ManifestError{Message: fmt.Sprintf("container '%s': %v", name, err)}
			}
		}
	}
	return nil
}

// Names returns the container names in sorted order.
func (m *Manifest) Names() []string {
	return slices.Sorted(maps.Keys(m.Containers))
}

// AddContainer adds a container to the manifest. The manifest is left
// unchanged if the name is taken or the result would be invalid.
func (m *Manifest) AddContainer(name string, spec ContainerSpec) error {
	if _, exists := m.Containers[name]; exists {
		return &ManifestError{Message: fmt.Sprintf("container with name '%s' already exists", name)}
	}

	if m.Containers == nil {
		m.Containers = make(map[string]ContainerSpec)
	}
	m.Containers[name] = spec
	if err := m.Validate(); err != nil {
		delete(m.Containers, name)
		return err
	}
	return nil
}

// RemoveContainer removes the named container from the manifest.
func (m *Manifest) RemoveContainer(name string) error {
	if _, exists := m.Containers[name]; !exists {
		return &ManifestError{Message: fmt.Sprintf("container '%s' not found", name)}
	}
	delete(m.Containers, name)
	return nil
}

// Active returns the names of containers whose command is not Ignore, sorted.
func (m *Manifest) Active() []string {
	var names []string
	for _, name := range m.Names() {
		if m.Containers[name].Command != CommandIgnore {
			names = append(names, name)
		}
	}
	return names
}

func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
}

// MarshalJSON encodes the mapping as [container_port, host_port].
func (p PortMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint16{p.ContainerPort, p.HostPort})
}

// UnmarshalJSON decodes a [container_port, host_port] pair.
func (p *PortMapping) UnmarshalJSON(data []byte) error {
	var pair []uint16
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("port mapping must be a [container_port, host_port] pair: %w", err)
	}
	return p.fromPair(pair)
}

// MarshalYAML encodes the mapping as a flow sequence.
func (p PortMapping) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, port := range []uint16{p.ContainerPort, p.HostPort} {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(port)})
	}
	return node, nil
}

// UnmarshalYAML decodes a [container_port, host_port] pair.
func (p *PortMapping) UnmarshalYAML(value *yaml.Node) error {
	var pair []uint16
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("port mapping must be a [container_port, host_port] pair: %w", err)
	}
	return p.fromPair(pair)
}

func (p *PortMapping) fromPair(pair []uint16) error {
	if len(pair) != 2 {
		return fmt.Errorf("port mapping must have exactly 2 elements, got %d", len(pair))
	}
	p.ContainerPort = pair[0]
	p.HostPort = pair[1]
	return nil
}
