// Package parser decomposes raw SMTP message transmissions into their
// logical structure: header fields, text and HTML bodies, and attachments.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Register additional charsets that are commonly used in emails
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// DecodeError reports a transmission that could not be decomposed under its
// declared encoding or structure. The whole ingestion fails; no partial
// result is produced.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decompose parses a raw message transmission into a ParsedMessage.
//
// Body selection is deterministic regardless of part order: the first
// text/plain part wins, the first text/html part sets the HTML body, and an
// HTML-derived text rendering only fills the text body while it is still
// empty. A single-part message whose payload is neither plain text nor HTML
// still has a body: its decoded payload becomes the text body verbatim. Parts
// with attachment disposition and a declared filename become attachment parts
// in visitation order; other multipart children are ignored.
func Decompose(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Reason: "message headers", Err: err}
	}

	parsed := &ParsedMessage{
		Headers: headerMap(mr.Header),
	}

	parsed.Subject = decodeMIMEWord(mr.Header.Get("Subject"))

	outerType, _, _ := mr.Header.ContentType()
	isMultipart := strings.HasPrefix(outerType, "multipart/")

	// The raw Date header is kept verbatim when it parses; an absent or
	// unparsable date falls back to the ingestion timestamp.
	if _, err := mr.Header.Date(); err == nil && mr.Header.Get("Date") != "" {
		parsed.Date = mr.Header.Get("Date")
	} else {
		parsed.Date = time.Now().Format(time.RFC3339)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DecodeError{Reason: "message part", Err: err}
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, &DecodeError{Reason: "body part", Err: err}
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if parsed.BodyText == "" {
					parsed.BodyText = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				if parsed.BodyHTML == "" {
					parsed.BodyHTML = string(body)
					if parsed.BodyText == "" {
						parsed.BodyText = htmlToText(parsed.BodyHTML)
					}
				}
			default:
				// a single-part message carries its payload as the text
				// body whatever its declared type; unrecognized multipart
				// children stay ignored
				if !isMultipart && parsed.BodyText == "" {
					parsed.BodyText = string(body)
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			if filename == "" {
				// attachment disposition without a filename is not
				// addressable as a blob; skip it
				continue
			}
			contentType, _, _ := h.ContentType()

			data, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, &DecodeError{
					Reason: fmt.Sprintf("attachment %q", filename),
					Err:    err,
				}
			}

			parsed.Attachments = append(parsed.Attachments, ParsedAttachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(data)),
				Data:        data,
			})
		}
	}

	return parsed, nil
}

// headerMap flattens the outer message headers into a name/value map.
// Fields iterates most-recently-added first, so for a parsed message the
// first sighting of a key is its last raw occurrence; keeping that one gives
// last-occurrence-wins semantics.
func headerMap(h mail.Header) map[string]string {
	headers := make(map[string]string)
	fields := h.Fields()
	for fields.Next() {
		if _, ok := headers[fields.Key()]; ok {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			// keep the raw value when RFC 2047 decoding fails
			value = fields.Value()
		}
		headers[fields.Key()] = value
	}
	return headers
}

// decodeMIMEWord decodes MIME-encoded words (RFC 2047)
// Example: =?UTF-8?Q?Invitaci=C3=B3n?= -> Invitación
func decodeMIMEWord(s string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		// If decoding fails, return original string
		return s
	}
	return decoded
}
