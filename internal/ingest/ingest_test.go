package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felo/mailtrap/internal/blob"
	"github.com/felo/mailtrap/internal/db"
	"github.com/felo/mailtrap/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPipeline(t *testing.T) (*Pipeline, *db.DB, *blob.Store) {
	t.Helper()

	database := db.SetupTestDB(t)
	t.Cleanup(func() { db.CleanupTestDB(t, database) })

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	return New(database, blobs, 10*time.Second), database, blobs
}

func raw(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestIngest_ConcreteScenario(t *testing.T) {
	pipeline, _, blobs := setupPipeline(t)

	transmission := raw(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Hello",
		"Date: Mon, 12 Jan 2026 10:00:00 +0000",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="B"`,
		"",
		"--B",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hi there",
		"--B",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQK",
		"--B--",
	)

	email, err := pipeline.Ingest(context.Background(),
		"sender@example.com", []string{"recipient@example.com"}, transmission)

	require.NoError(t, err)
	assert.Equal(t, int64(1), email.ID)
	assert.Equal(t, "sender@example.com", email.From)
	assert.Equal(t, []string{"recipient@example.com"}, email.To)
	assert.Equal(t, "Hello", email.Subject)
	assert.Equal(t, "Hi there", email.ContentText)

	require.Len(t, email.Attachments, 1)
	att := email.Attachments[0]
	assert.Equal(t, "report.pdf", att.Filename)
	assert.Equal(t, "1_report.pdf", att.StorageKey)
	assert.Equal(t, "application/pdf", att.ContentType)

	data, err := blobs.Read(att.StorageKey)
	require.NoError(t, err, "Blob must be persisted before the record commits")
	assert.Equal(t, []byte("%PDF-1.4\n"), data)
}

func TestIngest_PlainTextRoundTrip(t *testing.T) {
	pipeline, database, _ := setupPipeline(t)

	transmission := raw(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Plain",
		"Date: Mon, 12 Jan 2026 10:00:00 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Just text",
	)

	email, err := pipeline.Ingest(context.Background(),
		"sender@example.com", []string{"recipient@example.com"}, transmission)

	require.NoError(t, err)
	assert.Equal(t, "Just text\r\n", email.ContentText)
	assert.Empty(t, email.ContentHTML)
	assert.Empty(t, email.Attachments)

	stored, err := database.Get(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, email.ContentText, stored.ContentText)
}

func TestIngest_MissingEnvelopeRejected(t *testing.T) {
	pipeline, database, _ := setupPipeline(t)

	_, err := pipeline.Ingest(context.Background(), "", []string{"r@example.com"}, raw("Subject: x", "", "b"))
	assert.Error(t, err, "Missing sender is rejected before decomposition")

	_, err = pipeline.Ingest(context.Background(), "s@example.com", nil, raw("Subject: x", "", "b"))
	assert.Error(t, err, "Missing recipients are rejected before decomposition")

	count, err := database.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIngest_DecodeFailureIsTyped(t *testing.T) {
	pipeline, database, _ := setupPipeline(t)

	transmission := raw(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Bad",
		`Content-Type: text/plain; charset="x-no-such-charset"`,
		"",
		"Body",
	)

	_, err := pipeline.Ingest(context.Background(),
		"sender@example.com", []string{"recipient@example.com"}, transmission)

	require.Error(t, err)
	var decodeErr *parser.DecodeError
	assert.ErrorAs(t, err, &decodeErr, "Decode failures keep their type for the transport layer")

	count, err := database.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "No partial record after a decode failure")
}

func TestIngest_BlobWriteFailureLeavesNoPartialState(t *testing.T) {
	database := db.SetupTestDB(t)
	defer db.CleanupTestDB(t, database)

	// a blob directory that is deleted out from under the store makes
	// every write fail
	dir := filepath.Join(t.TempDir(), "blobs")
	blobs, err := blob.NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	pipeline := New(database, blobs, 10*time.Second)

	transmission := raw(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Doomed",
		"Date: Mon, 12 Jan 2026 10:00:00 +0000",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="B"`,
		"",
		"--B",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Body",
		"--B",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"payload",
		"--B--",
	)

	_, err = pipeline.Ingest(context.Background(),
		"sender@example.com", []string{"recipient@example.com"}, transmission)

	require.Error(t, err)
	var persistErr *PersistenceError
	assert.ErrorAs(t, err, &persistErr, "Storage failures are typed as transient")

	count, err := database.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "Record count unchanged after failed ingestion")

	_, err = os.Stat(dir)
	assert.ErrorIs(t, err, fs.ErrNotExist, "No orphan blob directory recreated")
}

func TestIngest_CollisionAvoidanceAcrossEmails(t *testing.T) {
	pipeline, _, blobs := setupPipeline(t)

	build := func(content string) []byte {
		return raw(
			"From: sender@example.com",
			"To: recipient@example.com",
			"Subject: Same name",
			"Date: Mon, 12 Jan 2026 10:00:00 +0000",
			"MIME-Version: 1.0",
			`Content-Type: multipart/mixed; boundary="B"`,
			"",
			"--B",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"Body",
			"--B",
			"Content-Type: text/plain",
			`Content-Disposition: attachment; filename="notes.txt"`,
			"",
			content,
			"--B--",
		)
	}

	first, err := pipeline.Ingest(context.Background(),
		"sender@example.com", []string{"r@example.com"}, build("first content"))
	require.NoError(t, err)
	second, err := pipeline.Ingest(context.Background(),
		"sender@example.com", []string{"r@example.com"}, build("second content"))
	require.NoError(t, err)

	require.Len(t, first.Attachments, 1)
	require.Len(t, second.Attachments, 1)
	assert.NotEqual(t, first.Attachments[0].StorageKey, second.Attachments[0].StorageKey)

	firstData, err := blobs.Read(first.Attachments[0].StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(firstData), "first content",
		"Second email must not overwrite the first email's blob")
}
