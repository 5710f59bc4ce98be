package parser

// ParsedMessage is the logical structure of a raw message transmission.
// It carries everything the envelope does not: header-derived fields, body
// content and decoded attachment parts.
type ParsedMessage struct {
	Subject     string
	Date        string
	BodyText    string
	BodyHTML    string
	Headers     map[string]string
	Attachments []ParsedAttachment
}

// ParsedAttachment is an attachment part awaiting persistence.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}
