package engine

import (
	"fmt"
	"sort"

	"evalgo.org/anchor/models"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

// buildContainerConfig builds the Docker container.Config from a ContainerSpec.
func buildContainerConfig(spec models.ContainerSpec) *container.Config {
	config := &container.Config{
		Image: spec.URI,
	}

	// Environment variables, sorted for a stable request body
	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
		}
	}

	// Exposed ports
	if len(spec.PortMappings) > 0 {
		config.ExposedPorts = make(nat.PortSet)
		for _, p := range spec.PortMappings {
			config.ExposedPorts[containerPort(p)] = struct{}{}
		}
	}

	return config
}

// buildHostConfig builds the Docker container.HostConfig from a ContainerSpec.
func buildHostConfig(spec models.ContainerSpec) *container.HostConfig {
	hostConfig := &container.HostConfig{
		PortBindings: make(nat.PortMap),
	}

	// Port bindings
	for _, p := range spec.PortMappings {
		port := containerPort(p)
		hostConfig.PortBindings[port] = append(hostConfig.PortBindings[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: fmt.Sprintf("%d", p.HostPort),
		})
	}

	// Mounts
	for _, m := range spec.Mounts {
		hostConfig.Mounts = append(hostConfig.Mounts, buildMount(m))
	}

	return hostConfig
}

func buildMount(m models.MountDescriptor) mount.Mount {
	switch m.Type {
	case models.MountBind:
		return mount.Mount{
			Type:        mount.TypeBind,
			Source:      m.Source,
			Target:      m.Target,
			ReadOnly:    m.ReadOnly,
			BindOptions: &mount.BindOptions{CreateMountpoint: true},
		}
	case models.MountVolume:
		return mount.Mount{
			Type:     mount.TypeVolume,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	case models.MountAnonymousVolume:
		return mount.Mount{
			Type:     mount.TypeVolume,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	default:
		// Rejected by manifest validation; pass through so the engine reports it.
		return mount.Mount{Type: mount.Type(m.Type), Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly}
	}
}

func containerPort(p models.PortMapping) nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", p.ContainerPort))
}
