package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/jandubois/dchealth/internal/config"
)

// SMTPChannel mails the report. The HTML report becomes the message body
// with the text summary as the plain alternative.
type SMTPChannel struct {
	addr     string
	auth     smtp.Auth
	from     string
	to       []string
	subject  string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// NewSMTPChannel creates a new e-mail channel. Port defaults to 25.
func NewSMTPChannel(cfg config.SMTPConfig) *SMTPChannel {
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPChannel{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		auth:     auth,
		from:     cfg.From,
		to:       cfg.To,
		subject:  cfg.Subject,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Type returns the channel type.
func (s *SMTPChannel) Type() string {
	return "smtp"
}

// Send mails msg. net/smtp has no context support, so a cancelled context
// abandons the send rather than interrupting it.
func (s *SMTPChannel) Send(ctx context.Context, msg *Message) error {
	body, err := s.compose(msg)
	if err != nil {
		return fmt.Errorf("compose mail: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, s.auth, s.from, s.to, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail via %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTPChannel) compose(msg *Message) ([]byte, error) {
	subject := msg.Title
	if s.subject != "" {
		subject = s.subject + ": " + msg.Title
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", s.from)
	header("To", strings.Join(s.to, ", "))
	header("Subject", mimeWord(subject))
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	if msg.Priority >= PriorityUrgent {
		header("X-Priority", "1")
	}
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	text := msg.Body
	if msg.URL != "" {
		text += "\n\n" + msg.URL
	}
	if err := writePart(mw, "text/plain; charset=utf-8", []byte(text)); err != nil {
		return nil, err
	}
	if len(msg.HTML) > 0 {
		if err := writePart(mw, "text/html; charset=utf-8", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType string, content []byte) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write(content); err != nil {
		return err
	}
	return qp.Close()
}

// mimeWord encodes non-ASCII subjects.
func mimeWord(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}
