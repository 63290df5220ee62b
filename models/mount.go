package models

import (
	"fmt"
	"path"
)

// MountType identifies the kind of a MountDescriptor.
type MountType string

const (
	MountBind            MountType = "bind"             // Host path bound into the container
	MountVolume          MountType = "volume"           // Named, engine-managed volume
	MountAnonymousVolume MountType = "anonymous_volume" // Fresh volume created with the container
)

// MountDescriptor describes one mount attached to a container.
//
// Source holds the host path for bind mounts and the volume name for named
// volumes. Anonymous volumes have no source.
type MountDescriptor struct {
	Type     MountType `json:"type" yaml:"type"`
	Source   string    `json:"source,omitempty" yaml:"source,omitempty"`
	Target   string    `json:"target" yaml:"target"`
	ReadOnly bool      `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// BindMount returns a bind mount of hostPath at containerPath.
func BindMount(hostPath, containerPath string, readOnly bool) MountDescriptor {
	return MountDescriptor{Type: MountBind, Source: hostPath, Target: containerPath, ReadOnly: readOnly}
}

// NamedVolume returns a mount of the named volume at containerPath.
func NamedVolume(name, containerPath string, readOnly bool) MountDescriptor {
	return MountDescriptor{Type: MountVolume, Source: name, Target: containerPath, ReadOnly: readOnly}
}

// AnonymousVolume returns an anonymous volume mounted at containerPath.
func AnonymousVolume(containerPath string, readOnly bool) MountDescriptor {
	return MountDescriptor{Type: MountAnonymousVolume, Target: containerPath, ReadOnly: readOnly}
}

// Validate checks that the descriptor carries the fields its type requires.
func (m MountDescriptor) Validate() error {
	if !path.IsAbs(m.Target) {
		return fmt.Errorf("mount target %q must be an absolute path", m.Target)
	}

	switch m.Type {
	case MountBind:
		if !path.IsAbs(m.Source) {
			return fmt.Errorf("bind mount source %q must be an absolute path", m.Source)
		}
	case MountVolume:
		if m.Source == "" {
			return fmt.Errorf("volume mount at %q needs a volume name", m.Target)
		}
	case MountAnonymousVolume:
		if m.Source != "" {
			return fmt.Errorf("anonymous volume at %q must not name a source", m.Target)
		}
	default:
		return fmt.Errorf("unknown mount type %q", m.Type)
	}

	return nil
}

// Mode returns "ro" or "rw".
func (m MountDescriptor) Mode() string {
	if m.ReadOnly {
		return "ro"
	}
	return "rw"
}

func (m MountDescriptor) String() string {
	if m.Type == MountAnonymousVolume {
		return fmt.Sprintf("%s:%s", m.Target, m.Mode())
	}
	return fmt.Sprintf("%s:%s:%s", m.Source, m.Target, m.Mode())
}
