package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"evalgo.org/anchor/models"
	"github.com/docker/docker/pkg/jsonmessage"
)

// readPullStream drains an image pull response. Each message is forwarded to
// progress as an ImageDownloadEvent; an error message in the stream fails the pull.
func readPullStream(r io.Reader, uri string, progress func(models.ImageDownloadEvent)) error {
	decoder := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read pull stream for %s: %w", uri, err)
		}

		if msg.Error != nil {
			return &models.ImageError{Image: uri, Message: msg.Error.Message}
		}
		if msg.ErrorMessage != "" {
			return &models.ImageError{Image: uri, Message: msg.ErrorMessage}
		}

		if progress != nil && msg.Status != "" {
			progress(pullEvent(uri, msg))
		}
	}
}

func pullEvent(uri string, msg jsonmessage.JSONMessage) models.ImageDownloadEvent {
	event := models.ImageDownloadEvent{
		Image:  uri,
		Status: msg.Status,
		Layer:  msg.ID,
	}
	if p := msg.Progress; p != nil && p.Total > 0 {
		pct := float64(p.Current) / float64(p.Total) * 100
		if pct > 100 {
			pct = 100
		}
		event.Progress = &pct
	}
	return event
}
