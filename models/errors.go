package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrEngineNotRunning is returned when the container engine does not answer a liveness probe.
var ErrEngineNotRunning = errors.New("container engine is not running")

// ConnectionError means the engine could not be reached, or kept failing with
// transient errors until the retry budget was spent.
type ConnectionError struct {
	Op       string // Operation that failed
	Attempts int    // Attempts made, 0 when unknown
	Err      error  // Last underlying error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ImageError is a pull or remove failure tied to an image.
type ImageError struct {
	Image   string
	Message string
	Err     error
}

func (e *ImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image '%s': %s: %v", e.Image, e.Message, e.Err)
	}
	return fmt.Sprintf("image '%s': %s", e.Image, e.Message)
}

func (e *ImageError) Unwrap() error { return e.Err }

// ContainerError is a lifecycle-step failure tied to a container.
type ContainerError struct {
	Container string
	Message   string
	Err       error
}

func (e *ContainerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container '%s': %s: %v", e.Container, e.Message, e.Err)
	}
	return fmt.Sprintf("container '%s': %s", e.Container, e.Message)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// ECRCredentialsError is a failure to obtain registry credentials.
type ECRCredentialsError struct {
	Message string
	Err     error
}

func (e *ECRCredentialsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry credentials: %s: %v", e.Message, e.Err)
	}
	return "registry credentials: " + e.Message
}

func (e *ECRCredentialsError) Unwrap() error { return e.Err }

// ManifestError is a manifest validation failure.
type ManifestError struct {
	Message string
}

func (e *ManifestError) Error() string {
	return "invalid manifest: " + e.Message
}

// TimeoutError means an operation exceeded its time budget.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// NotInstalledError means the container engine is absent from the host.
type NotInstalledError struct {
	Engine string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("%s is not installed", e.Engine)
}
