// Package function is the Cloud Functions entrypoint running the job for
// sales exports uploaded to Cloud Storage.
//
// Deploy it with a google.storage.object.finalize trigger:
//
//	gcloud functions deploy SalesETL --runtime go122 \
//	  --trigger-resource $BUCKET --trigger-event google.storage.object.finalize
package function

import (
	"context"
	"os"
	"sync"

	"cloud.google.com/go/functions/metadata"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"go.nownabe.dev/salesetl"
	"go.nownabe.dev/salesetl/contrib/profiles"
)

// GCSEvent is the payload of a Cloud Storage trigger.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Runner runs the job for one source.
type Runner interface {
	Run(context.Context, salesetl.Source) (*salesetl.Result, error)
}

var (
	jobMu sync.Mutex
	job   *salesetl.Job
)

// loadJob builds the job once per instance. A failed build is retried on the next event.
func loadJob(ctx context.Context) (*salesetl.Job, error) {
	jobMu.Lock()
	defer jobMu.Unlock()

	if job != nil {
		return job, nil
	}

	cfg, err := salesetl.LoadConfig(os.Getenv("SALESETL_CONFIG"))
	if err != nil {
		return nil, err
	}

	p, err := profiles.Lookup(cfg.Input.Profile)
	if err != nil {
		return nil, err
	}

	j, err := salesetl.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.Apply(j)

	job = j
	return job, nil
}

// SalesETL is the entrypoint for Cloud Functions.
func SalesETL(ctx context.Context, e GCSEvent) error {
	j, err := loadJob(ctx)
	if err != nil {
		return xerrors.Errorf("failed to build job: %w", err)
	}

	ctx = j.Logger().WithContext(ctx)
	return handle(ctx, j, e)
}

func handle(ctx context.Context, r Runner, e GCSEvent) error {
	l := zerolog.Ctx(ctx)

	if m, err := metadata.FromContext(ctx); err == nil {
		l.Info().
			Str("event_id", m.EventID).
			Str("event_type", m.EventType).
			Time("event_time", m.Timestamp).
			Msg("received storage event")
	}

	_, err := r.Run(ctx, salesetl.Source{Bucket: e.Bucket, Name: e.Name})
	return err
}
