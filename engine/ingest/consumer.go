package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// Subject receives uploads from other services.
	Subject = "garage.documents.upload"
	// DLQSubject receives uploads that could not be indexed.
	DLQSubject = "garage.documents.upload.dlq"
	// MaxAttempts before an upload is dead-lettered.
	MaxAttempts = 3

	handleTimeout = 2 * time.Minute
)

// DeadLetter is published to DLQSubject.
type DeadLetter struct {
	Upload   Upload `json:"upload"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Reply answers uploads sent as requests.
type Reply struct {
	Result
	Error string `json:"error,omitempty"`
}

// StartConsumer indexes uploads published on Subject. Transient failures are
// redelivered up to MaxAttempts; invalid or denied uploads go straight to
// DLQSubject. Requests get a Reply once the upload is indexed or dead-lettered.
func StartConsumer(nc *nats.Conn, svc *Service, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reply := func(msg *nats.Msg, r Reply) {
		if err := natsutil.Respond(msg, r); err != nil {
			logger.Warn("ingest: reply", "err", err)
		}
	}
	malformed := func(msg *nats.Msg, err error) {
		logger.Error("ingest: malformed upload", "err", err)
		reply(msg, Reply{Error: "malformed upload"})
	}

	return natsutil.Subscribe(nc, Subject, func(ctx context.Context, msg *nats.Msg, up Upload) {
		attempt := natsutil.Attempt(msg)
		ctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		res, err := svc.Ingest(ctx, up)
		switch {
		case err == nil:
			reply(msg, Reply{Result: res})
		case permanent(err) || attempt >= MaxAttempts:
			logger.Error("ingest: dead-lettering upload", "err", err, "title", up.Title, "attempts", attempt)
			dl := DeadLetter{Upload: up, Error: err.Error(), Attempts: attempt}
			if err := natsutil.Publish(ctx, nc, DLQSubject, dl); err != nil {
				logger.Error("ingest: dlq publish", "err", err)
			}
			reply(msg, Reply{Error: err.Error()})
		default:
			logger.Warn("ingest: retrying upload", "err", err, "title", up.Title, "attempt", attempt)
			if err := natsutil.Redeliver(nc, msg); err != nil {
				logger.Error("ingest: retry publish", "err", err)
			}
		}
	}, malformed)
}

func permanent(err error) bool {
	var invalid *domain.ValidationError
	return errors.As(err, &invalid) || errors.Is(err, domain.ErrUpgradeRequired)
}
