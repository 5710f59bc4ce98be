package db

// AUTOINCREMENT keeps identifiers monotonic across the store's lifetime:
// an id is never reused, even after the record it belonged to is deleted.
const schema = `
CREATE TABLE IF NOT EXISTS emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sender TEXT NOT NULL,
    recipients TEXT NOT NULL,  -- JSON array, one entry per accepted RCPT
    subject TEXT,
    date TEXT,
    content_text TEXT,
    content_html TEXT,
    headers TEXT               -- JSON object, last occurrence wins
);

CREATE TABLE IF NOT EXISTS attachments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email_id INTEGER NOT NULL,
    filename TEXT NOT NULL,
    storage_key TEXT NOT NULL,
    content_type TEXT,
    FOREIGN KEY(email_id) REFERENCES emails(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attachments_email_id ON attachments(email_id);
`
