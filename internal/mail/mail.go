// Package mail is the notification sink. It sends edition attachments to
// recipients and run notifications to the administrator over SMTP, with
// markdown bodies rendered to an HTML alternative.
package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"time"

	"github.com/yuin/goldmark"
)

// Sender delivers editions and run notifications. Implemented by *Client;
// callers hold a nil Sender when outgoing mail is not configured.
type Sender interface {
	SendEdition(to, subject, body, filename string, attachment []byte) error
	SendSuccess(to, subject, body string) error
	SendWarning(to, subject, body string) error
	SendError(to, subject, body string) error
}

// Client sends mail through one SMTP account. STARTTLS is used when the
// server offers it.
type Client struct {
	host     string
	port     int
	from     string
	username string
	password string
}

// New creates an SMTP client. Empty username disables authentication.
func New(host string, port int, from, username, password string) *Client {
	if port == 0 {
		port = 587
	}
	return &Client{host: host, port: port, from: from, username: username, password: password}
}

// SendEdition mails one edition PDF to a recipient.
func (c *Client) SendEdition(to, subject, body, filename string, attachment []byte) error {
	return c.send(to, subject, body, filename, attachment)
}

// SendSuccess mails a run summary.
func (c *Client) SendSuccess(to, subject, body string) error {
	return c.send(to, "OK: "+subject, body, "", nil)
}

// SendWarning mails a warning notification.
func (c *Client) SendWarning(to, subject, body string) error {
	return c.send(to, "WARNING: "+subject, body, "", nil)
}

// SendError mails an error notification.
func (c *Client) SendError(to, subject, body string) error {
	return c.send(to, "ERROR: "+subject, body, "", nil)
}

func (c *Client) send(to, subject, body, filename string, attachment []byte) error {
	msg := buildMessage(c.from, to, subject, body, filename, attachment)

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if err := smtp.SendMail(addr, auth, c.from, []string{to}, msg); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}

var md = goldmark.New()

// renderHTML converts a markdown body into the HTML alternative part.
func renderHTML(body string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return "<pre>" + body + "</pre>"
	}
	return buf.String()
}

const (
	mixedBoundary = "=_pressbote_mixed"
	altBoundary   = "=_pressbote_alt"
)

// buildMessage assembles a multipart MIME message: a text/html alternative
// pair for the body, plus an optional PDF attachment.
func buildMessage(from, to, subject, body, filename string, attachment []byte) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=\"%s\"\r\n", mixedBoundary)
	fmt.Fprintf(&b, "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", mixedBoundary)
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", altBoundary)
	fmt.Fprintf(&b, "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", altBoundary)
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "%s\r\n", body)

	fmt.Fprintf(&b, "--%s\r\n", altBoundary)
	fmt.Fprintf(&b, "Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "%s\r\n", renderHTML(body))
	fmt.Fprintf(&b, "--%s--\r\n", altBoundary)

	if len(attachment) > 0 {
		fmt.Fprintf(&b, "--%s\r\n", mixedBoundary)
		fmt.Fprintf(&b, "Content-Type: application/pdf; name=\"%s\"\r\n", filename)
		fmt.Fprintf(&b, "Content-Disposition: attachment; filename=\"%s\"\r\n", filename)
		fmt.Fprintf(&b, "Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&b, "\r\n")
		writeBase64(&b, attachment)
	}
	fmt.Fprintf(&b, "--%s--\r\n", mixedBoundary)

	return b.Bytes()
}

// writeBase64 encodes data in 76-column lines as RFC 2045 requires.
func writeBase64(b *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := 76
		if n > len(encoded) {
			n = len(encoded)
		}
		b.WriteString(encoded[:n])
		b.WriteString("\r\n")
		encoded = encoded[n:]
	}
}
