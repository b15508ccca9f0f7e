// Package smtp implements capability.SMTPClient against a real SMTP server
// using net/smtp, and provides a StubClient for tests and local
// development that records messages instead of sending them, playing the
// role the original prototype's aiosmtpd-based smtpstub.py server played.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/wadcom/minimailgun/internal/capability"
)

// Client delivers mail over a plain, unauthenticated SMTP connection. This
// matches how a relay talks to a destination's public MX: no credentials,
// opportunistic delivery only.
type Client struct {
	dialTimeout time.Duration
	port        string
}

// New creates a Client. port is the SMTP port to connect to on every MX
// host (normally "25"); dialTimeout bounds connection setup.
func New(port string, dialTimeout time.Duration) *Client {
	if port == "" {
		port = "25"
	}
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &Client{dialTimeout: dialTimeout, port: port}
}

func (c *Client) Send(ctx context.Context, host string, recipients []string, message string) error {
	addr := net.JoinHostPort(host, c.port)

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &capability.TemporaryFailure{Host: host, Err: fmt.Errorf("dial %s: %w", addr, err)}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return &capability.TemporaryFailure{Host: host, Err: fmt.Errorf("smtp handshake with %s: %w", host, err)}
	}
	defer client.Close()

	if err := client.Mail(""); err != nil {
		return classify(host, "MAIL FROM", err)
	}
	for _, rcpt := range recipients {
		rcpt = normalizeRecipient(rcpt)
		if err := client.Rcpt(rcpt); err != nil {
			return classify(host, fmt.Sprintf("RCPT TO %s", rcpt), err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return classify(host, "DATA", err)
	}
	if _, err := w.Write([]byte(message)); err != nil {
		return classify(host, "DATA body", err)
	}
	if err := w.Close(); err != nil {
		return classify(host, "DATA close", err)
	}

	return client.Quit()
}

// classify turns an SMTP protocol error into Temporary or Permanent based
// on its reply code, per RFC 5321: 4xx is transient, 5xx is terminal.
func classify(host, step string, err error) error {
	wrapped := fmt.Errorf("%s to %s: %w", step, host, err)

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 && protoErr.Code < 600 {
		return &capability.PermanentFailure{Host: host, Err: wrapped}
	}
	return &capability.TemporaryFailure{Host: host, Err: wrapped}
}

// normalizeRecipient strips surrounding whitespace the way a mail client
// would before handing an address to RCPT TO.
func normalizeRecipient(addr string) string {
	return strings.TrimSpace(addr)
}
