package transport

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
)

// SMTPTransport sends through a plain SMTP relay. Provider OAuth and
// connection pooling live outside the dispatch core; this covers the
// Transport contract for a standard relay.
type SMTPTransport struct {
	addr     string
	username string
	password string
}

func NewSMTPTransport(addr, username, password string) *SMTPTransport {
	return &SMTPTransport{addr: addr, username: username, password: password}
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Send(ctx context.Context, mail *Mail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", appErrors.NewTimeout("smtp send", err)
	}

	providerID := uuid.NewString()
	msg := buildMIME(mail, providerID)

	var auth smtp.Auth
	if t.username != "" {
		host := t.addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", t.username, t.password, host)
	}

	if err := smtp.SendMail(t.addr, auth, mail.From, []string{mail.To}, msg); err != nil {
		return "", appErrors.NewTransport(err)
	}
	return providerID, nil
}

func buildMIME(mail *Mail, messageID string) []byte {
	var b strings.Builder
	from := mail.From
	if mail.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", mail.FromName), mail.From)
	}
	to := mail.To
	if mail.ToName != "" {
		to = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", mail.ToName), mail.To)
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", mail.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s@dispatch>\r\n", messageID)
	for key, value := range mail.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", key, value)
	}
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")

	boundary := "b-" + messageID
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	if mail.Text != "" {
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, mail.Text)
	}
	if mail.HTML != "" {
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, mail.HTML)
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
