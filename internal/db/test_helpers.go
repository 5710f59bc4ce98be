package db

import (
	"context"
	"fmt"
	"testing"
)

// SetupTestDB creates an in-memory SQLite database for testing
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database
func CleanupTestDB(t *testing.T, db *DB) {
	t.Helper()

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close test database: %v", err)
	}
}

// CreateTestEmail creates a test email with default values
func CreateTestEmail(subject, sender, body string) *Email {
	return &Email{
		From:        sender,
		To:          []string{"recipient@test.com"},
		Subject:     subject,
		Date:        "Mon, 12 Jan 2026 10:00:00 +0000",
		ContentText: body,
		Headers: map[string]string{
			"From":    sender,
			"Subject": subject,
		},
	}
}

// NoAttachments is a persist callback for emails without attachment blobs
func NoAttachments(int64) ([]Attachment, error) {
	return nil, nil
}

// InsertTestEmails appends multiple test emails and returns them with ids set
func InsertTestEmails(t *testing.T, db *DB, emails []*Email) []*Email {
	t.Helper()

	for i, email := range emails {
		if _, err := db.Append(context.Background(), email, NoAttachments); err != nil {
			t.Fatalf("Failed to insert test email %d: %v", i, err)
		}
	}

	return emails
}

// CreateTestEmailWithAttachments creates a test email whose persist callback
// reports the given attachments without writing blobs
func CreateTestEmailWithAttachments(subject, sender, body string, filenames ...string) (*Email, func(id int64) ([]Attachment, error)) {
	email := CreateTestEmail(subject, sender, body)
	persist := func(id int64) ([]Attachment, error) {
		atts := make([]Attachment, 0, len(filenames))
		for _, name := range filenames {
			atts = append(atts, Attachment{
				Filename:    name,
				StorageKey:  fmt.Sprintf("%d_%s", id, name),
				ContentType: "application/octet-stream",
			})
		}
		return atts, nil
	}
	return email, persist
}
