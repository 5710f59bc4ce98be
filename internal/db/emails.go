package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no email exists under the requested id.
var ErrNotFound = errors.New("email not found")

// Email is a captured message as committed to the store. A record is created
// exactly once at the end of a successful ingestion and never mutated.
type Email struct {
	ID          int64             `json:"id"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	Date        string            `json:"date"`
	ContentText string            `json:"content_text,omitempty"`
	ContentHTML string            `json:"content_html,omitempty"`
	Attachments []Attachment      `json:"attachments"`
	Headers     map[string]string `json:"headers"`
}

// Attachment references a persisted attachment blob.
type Attachment struct {
	Filename    string `json:"filename"`
	StorageKey  string `json:"storage_key"`
	ContentType string `json:"content_type"`
}

// Append commits a new email in a single transaction. Once the identifier is
// assigned, the persist callback must durably write the attachment blobs and
// return their references; when it fails the transaction rolls back and no
// record becomes visible. The burned identifier is not reused, preserving
// uniqueness across the store's lifetime.
func (db *DB) Append(ctx context.Context, email *Email, persist func(id int64) ([]Attachment, error)) (*Email, error) {
	recipients, err := json.Marshal(email.To)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recipients: %w", err)
	}
	headers, err := json.Marshal(email.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO emails (sender, recipients, subject, date, content_text, content_html, headers)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, email.From, string(recipients), email.Subject, email.Date,
		email.ContentText, email.ContentHTML, string(headers))
	if err != nil {
		return nil, fmt.Errorf("failed to insert email: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	attachments, err := persist(id)
	if err != nil {
		return nil, err
	}

	for _, att := range attachments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (email_id, filename, storage_key, content_type)
			VALUES (?, ?, ?, ?)
		`, id, att.Filename, att.StorageKey, att.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to insert attachment %s: %w", att.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	email.ID = id
	email.Attachments = attachments
	if email.Attachments == nil {
		email.Attachments = []Attachment{}
	}
	return email, nil
}

// Get retrieves a single email by id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, id int64) (*Email, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, sender, recipients, subject, date, content_text, content_html, headers
		FROM emails WHERE id = ?
	`, id)

	email, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	if err := db.loadAttachments(ctx, []*Email{email}); err != nil {
		return nil, err
	}
	return email, nil
}

// List returns all emails in insertion order (most recent last).
func (db *DB) List(ctx context.Context) ([]*Email, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, sender, recipients, subject, date, content_text, content_html, headers
		FROM emails
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	emails := []*Email{}
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}

	if err := db.loadAttachments(ctx, emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// Delete removes an email and its attachment rows, returning the storage keys
// whose blobs are now orphaned so the caller can remove them.
func (db *DB) Delete(ctx context.Context, id int64) ([]string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT storage_key FROM attachments WHERE email_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan storage key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating storage keys: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE email_id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete attachments: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return keys, nil
}

// Count returns the total number of stored emails.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM emails").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEmail(row scanner) (*Email, error) {
	email := &Email{}
	var recipients, headers string
	err := row.Scan(
		&email.ID, &email.From, &recipients, &email.Subject, &email.Date,
		&email.ContentText, &email.ContentHTML, &headers,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(recipients), &email.To); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &email.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}
	email.Attachments = []Attachment{}
	return email, nil
}

// loadAttachments fills the attachment references for each email, preserving
// the order they were visited during decomposition.
func (db *DB) loadAttachments(ctx context.Context, emails []*Email) error {
	if len(emails) == 0 {
		return nil
	}

	byID := make(map[int64]*Email, len(emails))
	for _, e := range emails {
		byID[e.ID] = e
	}

	rows, err := db.QueryContext(ctx, `
		SELECT email_id, filename, storage_key, content_type
		FROM attachments
		ORDER BY email_id, id
	`)
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var emailID int64
		var att Attachment
		if err := rows.Scan(&emailID, &att.Filename, &att.StorageKey, &att.ContentType); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		if email, ok := byID[emailID]; ok {
			email.Attachments = append(email.Attachments, att)
		}
	}
	return rows.Err()
}
