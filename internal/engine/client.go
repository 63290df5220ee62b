// Package engine is the boundary to the container engine.
//
// Client is the set of single remote operations the orchestration core needs.
// Each call is one request to the engine with no retry, timeout or progress
// semantics of its own; those are layered on by the retry and scheduler
// packages. Docker is the production implementation backed by the Docker
// Engine API; enginetest.Fake is an in-memory implementation for tests.
package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"evalgo.org/anchor/models"
	cerrdefs "github.com/containerd/errdefs"
	dockerclient "github.com/docker/docker/client"
)

// Client issues single operations against a container engine.
type Client interface {
	// Ping checks that the engine answers.
	Ping(ctx context.Context) error

	// Platform returns the engine platform as "os/arch".
	Platform(ctx context.Context) (string, error)

	// ImagePresent reports whether an image matching uri exists locally.
	ImagePresent(ctx context.Context, uri string) (bool, error)

	// PullImage pulls uri, reporting layer progress to progress when it is non-nil.
	PullImage(ctx context.Context, uri string, creds models.RegistryCredentials, progress func(models.ImageDownloadEvent)) error

	// RemoveImage force-removes an image.
	RemoveImage(ctx context.Context, uri string) error

	// ListImages lists local images.
	ListImages(ctx context.Context) ([]models.ImageSummary, error)

	// CreateContainer creates a container named name and returns its id.
	CreateContainer(ctx context.Context, name string, spec models.ContainerSpec) (string, error)

	// StartContainer starts an existing container.
	StartContainer(ctx context.Context, name string) error

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, name string) error

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, name string) error

	// Inspect reports the container's presence and state. A missing container
	// is not an error: the returned state has Exists set to false.
	Inspect(ctx context.Context, name string) (models.ContainerState, error)

	// ListContainers lists all containers, running or not.
	ListContainers(ctx context.Context) ([]models.ContainerSummary, error)

	// Metrics samples resource usage for a container.
	Metrics(ctx context.Context, name string) (models.ContainerMetrics, error)
}

// Class is the broad category of an engine error.
type Class int

const (
	ClassOther       Class = iota // Any error not covered below
	ClassTransient                // Connection refused/reset, unavailable, timeouts
	ClassNotFound                 // Object does not exist
	ClassConflict                 // Object already exists or is in use
	ClassNotModified              // Object already in the requested state
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassNotFound:
		return "not-found"
	case ClassConflict:
		return "conflict"
	case ClassNotModified:
		return "not-modified"
	default:
		return "other"
	}
}

// Classify sorts an engine error into a Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassOther
	case IsTransient(err):
		return ClassTransient
	case cerrdefs.IsNotFound(err):
		return ClassNotFound
	case cerrdefs.IsConflict(err) || cerrdefs.IsAlreadyExists(err):
		return ClassConflict
	case cerrdefs.IsNotModified(err):
		return ClassNotModified
	default:
		return ClassOther
	}
}

// IsTransient reports whether err is worth retrying: the engine could not be
// reached, dropped the connection, or did not answer in time.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var timeoutErr *models.TimeoutError
	var connErr *models.ConnectionError
	if errors.As(err, &timeoutErr) || errors.As(err, &connErr) {
		return true
	}

	if dockerclient.IsErrConnectionFailed(err) || cerrdefs.IsUnavailable(err) || cerrdefs.IsDeadlineExceeded(err) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
