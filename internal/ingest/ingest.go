// Package ingest turns a completed SMTP transmission into a committed store
// record. Attachment blobs are written before the record becomes visible;
// on any failure nothing is committed and blobs written for the attempt are
// removed again.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/felo/mailtrap/internal/blob"
	"github.com/felo/mailtrap/internal/db"
	"github.com/felo/mailtrap/internal/parser"
)

// PersistenceError marks a storage failure while committing a message. The
// transport layer maps it to a transient response code so the sending client
// retries per SMTP semantics.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Pipeline orchestrates Decomposer, blob store and message store for each
// completed transmission.
type Pipeline struct {
	db      *db.DB
	blobs   *blob.Store
	timeout time.Duration
}

// New creates a Pipeline. A non-zero timeout bounds each ingestion so a
// pathological message cannot starve the store's serialization point.
func New(database *db.DB, blobs *blob.Store, timeout time.Duration) *Pipeline {
	return &Pipeline{
		db:      database,
		blobs:   blobs,
		timeout: timeout,
	}
}

// Ingest decomposes the raw transmission and commits it under the envelope
// sender and recipients. Decode failures surface as *parser.DecodeError,
// storage failures as *PersistenceError.
func (p *Pipeline) Ingest(ctx context.Context, from string, to []string, raw []byte) (*db.Email, error) {
	if from == "" {
		return nil, errors.New("missing envelope sender")
	}
	if len(to) == 0 {
		return nil, errors.New("missing envelope recipients")
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	parsed, err := parser.Decompose(raw)
	if err != nil {
		return nil, err
	}

	email := &db.Email{
		From:        from,
		To:          to,
		Subject:     parsed.Subject,
		Date:        parsed.Date,
		ContentText: parsed.BodyText,
		ContentHTML: parsed.BodyHTML,
		Headers:     parsed.Headers,
	}

	var written []string
	record, err := p.db.Append(ctx, email, func(id int64) ([]db.Attachment, error) {
		attachments := make([]db.Attachment, 0, len(parsed.Attachments))
		for _, part := range parsed.Attachments {
			key := blob.Key(id, part.Filename)
			if err := p.blobs.Write(key, part.Data); err != nil {
				return nil, &PersistenceError{Err: err}
			}
			written = append(written, key)
			attachments = append(attachments, db.Attachment{
				Filename:    part.Filename,
				StorageKey:  key,
				ContentType: part.ContentType,
			})
		}
		return attachments, nil
	})
	if err != nil {
		p.removeBlobs(written)
		return nil, asPersistence(err)
	}

	return record, nil
}

// removeBlobs deletes blobs written for an aborted ingestion so a failed
// attempt leaves no orphans.
func (p *Pipeline) removeBlobs(keys []string) {
	for _, key := range keys {
		if err := p.blobs.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove blob of aborted ingestion", "key", key, "error", err)
		}
	}
}

// asPersistence wraps untyped store errors so the transport layer treats
// them as transient.
func asPersistence(err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Err: err}
}
