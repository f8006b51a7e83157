package gmail

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Message is a Gmail message in the REST wire shape. Payload is only
// populated for metadata/full fetches.
type Message struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds,omitempty"`
	Snippet      string   `json:"snippet,omitempty"`
	Payload      *Part    `json:"payload,omitempty"`
	InternalDate string   `json:"internalDate,omitempty"`
}

// Part is one MIME part of a message payload.
type Part struct {
	MimeType string   `json:"mimeType,omitempty"`
	Headers  []Header `json:"headers,omitempty"`
	Body     *Body    `json:"body,omitempty"`
	Parts    []*Part  `json:"parts,omitempty"`
}

// Header is a single RFC 2822 header of a part.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Body holds the base64url-encoded content of a part.
type Body struct {
	Data string `json:"data,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// MessageList is the hydrated result of a list call.
type MessageList struct {
	Messages           []*Message `json:"messages"`
	NextPageToken      string     `json:"nextPageToken,omitempty"`
	ResultSizeEstimate int64      `json:"resultSizeEstimate,omitempty"`
}

// Header returns the value of the named payload header, case-insensitively,
// or "" when absent.
func (m *Message) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// TextBody extracts the message body, preferring the top-level body data and
// falling back to the first text/plain or text/html part. When nothing
// decodes, the snippet is returned.
func (m *Message) TextBody() string {
	if m.Payload == nil {
		return m.Snippet
	}

	data := ""
	if m.Payload.Body != nil && m.Payload.Body.Data != "" {
		data = m.Payload.Body.Data
	} else if part := findTextPart(m.Payload.Parts); part != nil {
		data = part.Body.Data
	}
	if data == "" {
		return m.Snippet
	}

	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return m.Snippet
	}
	return string(decoded)
}

func findTextPart(parts []*Part) *Part {
	for _, p := range parts {
		if (p.MimeType == "text/plain" || p.MimeType == "text/html") && p.Body != nil && p.Body.Data != "" {
			return p
		}
	}
	// Multipart containers nest the text parts one level down.
	for _, p := range parts {
		if found := findTextPart(p.Parts); found != nil {
			return found
		}
	}
	return nil
}

// OutgoingMessage describes a message to send. InReplyTo carries the
// Message-ID being replied to; ThreadID keeps the reply in its thread.
type OutgoingMessage struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"replyTo,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// Raw renders the RFC 2822 message and encodes it the way the send endpoint
// expects: base64url without padding.
func (o *OutgoingMessage) Raw() string {
	lines := []string{
		"To: " + o.To,
	}
	if o.InReplyTo != "" {
		lines = append(lines,
			"In-Reply-To: "+o.InReplyTo,
			"References: "+o.InReplyTo,
		)
	}
	lines = append(lines,
		"Subject: "+o.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		o.Body,
	)
	raw := strings.Join(lines, "\r\n")
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(raw))
}

// Validate checks the required send fields.
func (o *OutgoingMessage) Validate() error {
	if o.To == "" || o.Subject == "" || o.Body == "" {
		return fmt.Errorf("to, subject and body are required")
	}
	return nil
}
