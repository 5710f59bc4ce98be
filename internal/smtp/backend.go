// Package smtp adapts the ingestion pipeline to the transport-level
// acceptance contract of emersion/go-smtp: recipient acceptance, data
// acceptance and the mapping of pipeline failures to SMTP response codes.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/felo/mailtrap/internal/config"
	"github.com/felo/mailtrap/internal/ingest"
	"github.com/felo/mailtrap/internal/parser"
)

// Backend creates one capture session per SMTP connection. The sink performs
// no client authentication; every login, anonymous or not, is accepted.
type Backend struct {
	pipeline *ingest.Pipeline
}

// NewBackend creates a Backend around the ingestion pipeline.
func NewBackend(pipeline *ingest.Pipeline) *Backend {
	return &Backend{pipeline: pipeline}
}

func (b *Backend) Login(_ *gosmtp.ConnectionState, _, _ string) (gosmtp.Session, error) {
	return &Session{pipeline: b.pipeline}, nil
}

func (b *Backend) AnonymousLogin(_ *gosmtp.ConnectionState) (gosmtp.Session, error) {
	return &Session{pipeline: b.pipeline}, nil
}

// Session accumulates one mail transaction: the envelope sender, the
// accepted recipients, and finally the raw transmission handed to the
// pipeline on Data. The transport library serializes calls per connection,
// so no locking is needed here; concurrent connections each get their own
// Session.
type Session struct {
	pipeline *ingest.Pipeline
	from     string
	to       []string
}

func (s *Session) Mail(from string, _ gosmtp.MailOptions) error {
	s.from = from
	s.to = nil
	return nil
}

// Rcpt always accepts: the sink captures mail for any recipient.
func (s *Session) Rcpt(to string) error {
	s.to = append(s.to, to)
	return nil
}

// Data ingests the completed transmission. Success yields the transport's
// 250 acceptance; failures are mapped to a permanent code for undecodable
// messages and a transient code for storage trouble.
func (s *Session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read message data: %w", err)
	}

	email, err := s.pipeline.Ingest(context.Background(), s.from, s.to, raw)
	if err != nil {
		return s.reject(err)
	}

	slog.Info("message accepted for delivery",
		"id", email.ID,
		"from", email.From,
		"recipients", len(email.To),
		"attachments", len(email.Attachments),
	)
	return nil
}

// reject converts a pipeline failure into the transport-level response code.
// Errors are handled here; they never propagate past the session.
func (s *Session) reject(err error) error {
	var decodeErr *parser.DecodeError
	if errors.As(err, &decodeErr) {
		slog.Error("rejecting undecodable message", "from", s.from, "error", err)
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be decoded",
		}
	}

	slog.Error("failed to store message", "from", s.from, "error", err)
	return &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure storing message, try again later",
	}
}

func (s *Session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *Session) Logout() error {
	return nil
}

// NewServer configures the SMTP listener around the capture backend. Each
// accepted connection runs on its own goroutine inside the library, so a
// slow decomposition never blocks unrelated connections.
func NewServer(cfg *config.Config, pipeline *ingest.Pipeline) *gosmtp.Server {
	s := gosmtp.NewServer(NewBackend(pipeline))
	s.Addr = cfg.SMTP.Listen
	s.Domain = cfg.SMTP.Hostname
	s.AllowInsecureAuth = true
	s.MaxMessageBytes = int(cfg.SMTP.MaxMessageSize)
	s.MaxRecipients = 100
	s.ReadTimeout = 60 * time.Second
	s.WriteTimeout = 10 * time.Second
	return s
}
