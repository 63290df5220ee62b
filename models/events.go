package models

import (
	"encoding/json"
	"fmt"
)

// EventType names the variant of a ProgressEvent.
type EventType string

const (
	EventImageDownload      EventType = "image_download"
	EventContainerLifecycle EventType = "container_lifecycle"
	EventOperation          EventType = "operation"
)

// ProgressEvent is a structured notification published on the progress bus.
// The set of variants is closed: ImageDownloadEvent, ContainerLifecycleEvent
// and OperationEvent.
type ProgressEvent interface {
	EventType() EventType
	isProgressEvent()
}

// ImageDownloadEvent reports pull progress for one image.
type ImageDownloadEvent struct {
	Image    string   `json:"image"`
	Status   string   `json:"status"`
	Layer    string   `json:"layer,omitempty"`
	Progress *float64 `json:"progress,omitempty"` // Layer percentage, 0-100
}

// Transition names a lifecycle step a container went through.
type Transition string

const (
	TransitionDownloaded   Transition = "downloaded"
	TransitionBuilt        Transition = "built"
	TransitionRunning      Transition = "running"
	TransitionStopped      Transition = "stopped"
	TransitionRemoved      Transition = "removed"
	TransitionImageRemoved Transition = "image_removed"
)

// ContainerLifecycleEvent reports that a container completed a transition.
type ContainerLifecycleEvent struct {
	Container  string        `json:"container"`
	Transition Transition    `json:"transition"`
	Stage      ResourceStage `json:"stage"` // Stage observed after the transition
}

// Level is the severity of an OperationEvent.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// OperationEvent is a free-form message about an operation in progress.
type OperationEvent struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

func (ImageDownloadEvent) EventType() EventType      { return EventImageDownload }
func (ContainerLifecycleEvent) EventType() EventType { return EventContainerLifecycle }
func (OperationEvent) EventType() EventType          { return EventOperation }

func (ImageDownloadEvent) isProgressEvent()      {}
func (ContainerLifecycleEvent) isProgressEvent() {}
func (OperationEvent) isProgressEvent()          {}

// ClusterStatusKind is the variant of a ClusterStatus notification.
type ClusterStatusKind string

const (
	ClusterDownloaded ClusterStatusKind = "Downloaded"
	ClusterBuilt      ClusterStatusKind = "Built"
	ClusterRunning    ClusterStatusKind = "Running"
	ClusterReady      ClusterStatusKind = "Ready"
)

// ClusterStatus is delivered to the cluster start callback. Container is empty for ClusterReady.
type ClusterStatus struct {
	Kind      ClusterStatusKind `json:"kind"`
	Container string            `json:"container,omitempty"`
}

func (s ClusterStatus) String() string {
	if s.Container == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + "(" + s.Container + ")"
}

// DecodeEvent decodes the JSON body of a progress event of type t.
func DecodeEvent(t EventType, data []byte) (ProgressEvent, error) {
	var (
		e   ProgressEvent
		err error
	)
	switch t {
	case EventImageDownload:
		var v ImageDownloadEvent
		err = json.Unmarshal(data, &v)
		e = v
	case EventContainerLifecycle:
		var v ContainerLifecycleEvent
		err = json.Unmarshal(data, &v)
		e = v
	case EventOperation:
		var v OperationEvent
		err = json.Unmarshal(data, &v)
		e = v
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s event: %w", t, err)
	}
	return e, nil
}
