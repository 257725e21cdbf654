package statuschan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"beacontrace/internal/model"
)

// Poster submits an encrypted status payload keyed by serial number and
// returns the status the server echoes. Satisfied by sync.Client.
type Poster interface {
	PostStatus(ctx context.Context, serialNumber, payload string) (model.Status, error)
}

// Channel encrypts and transmits the device's self-reported status and
// validates the server's echo. It does not retry: mismatches and crypto
// failures surface to the caller. A Post result that arrives after a newer
// status was set locally is still returned, but the caller must not let it
// overwrite the newer value.
type Channel struct {
	poster Poster
	logger *slog.Logger
}

func NewChannel(poster Poster, logger *slog.Logger) *Channel {
	return &Channel{poster: poster, logger: logger}
}

// Post encodes "{timestamp}|{status}", encrypts it under the shared secret
// and submits it. The call succeeds only if the server echoes the status
// that was sent.
func (c *Channel) Post(ctx context.Context, status model.Status, ts time.Time, serialNumber string, sharedSecret []byte) (model.Status, error) {
	if serialNumber == "" || len(sharedSecret) == 0 {
		return "", fmt.Errorf("status post needs credentials: %w", model.ErrUnregistered)
	}
	if !status.Valid() {
		return "", fmt.Errorf("status %q: %w", status, model.ErrInvalidParameter)
	}
	plaintext := fmt.Sprintf("%d|%s", ts.Unix(), status)
	payload, err := Encrypt(sharedSecret, plaintext)
	if err != nil {
		return "", err
	}
	echoed, err := c.poster.PostStatus(ctx, serialNumber, payload)
	if err != nil {
		return "", fmt.Errorf("submit status: %w", err)
	}
	if echoed != status {
		if c.logger != nil {
			c.logger.Warn("server echoed unexpected status", "sent", string(status), "echoed", string(echoed))
		}
		return echoed, fmt.Errorf("sent %q, server echoed %q: %w", status, echoed, model.ErrStatusMismatch)
	}
	return echoed, nil
}
