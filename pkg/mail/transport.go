/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/snups/snupsd/pkg/config"
)

var (
	// ErrAuthRefused marks an explicit rejection of the credentials.
	ErrAuthRefused = errors.New("authentication refused")
	// ErrSenderRefused marks a permanent rejection of MAIL FROM.
	ErrSenderRefused = errors.New("sender refused")
	// ErrRecipientRefused marks a permanent rejection of RCPT TO.
	ErrRecipientRefused = errors.New("recipient refused")
)

// Transport opens connections to mail exchanges.
type Transport interface {
	Dial(ctx context.Context, host string, cfg config.Mail) (Conn, error)
}

// Conn is an open SMTP session with a single mail exchange. Close must be
// safe to call in any state and after any error.
type Conn interface {
	StartTLS() error
	Auth(username, secret string) error
	Send(from, to string, msg io.WriterTo) error
	Close() error
}

// SMTPTransport implements Transport with net/smtp. Each protocol phase gets
// its own deadline of cfg.Timeout.
type SMTPTransport struct {
	// TLSConfig is cloned for every connection; ServerName defaults to the
	// mail exchange host.
	TLSConfig *tls.Config
	// LocalName is sent in EHLO, "localhost" when empty.
	LocalName string
}

func (t *SMTPTransport) Dial(ctx context.Context, host string, cfg config.Mail) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := &smtpConn{conn: nc, host: host, timeout: cfg.Timeout}
	c.extendDeadline()

	client, err := smtp.NewClient(nc, host)
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("reading greeting from %s: %w", addr, err)
	}
	c.client = client

	if t.LocalName != "" {
		if err := client.Hello(t.LocalName); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	c.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if t.TLSConfig != nil {
		c.tlsConfig = t.TLSConfig.Clone()
	}
	if c.tlsConfig.ServerName == "" {
		c.tlsConfig.ServerName = host
	}
	if cfg.InsecureSkipVerify {
		c.tlsConfig.InsecureSkipVerify = true
	}
	return c, nil
}

type smtpConn struct {
	conn      net.Conn
	client    *smtp.Client
	host      string
	timeout   time.Duration
	tlsConfig *tls.Config
	closed    bool
}

func (c *smtpConn) extendDeadline() {
	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

func (c *smtpConn) StartTLS() error {
	c.extendDeadline()
	return c.client.StartTLS(c.tlsConfig)
}

func (c *smtpConn) Auth(username, secret string) error {
	c.extendDeadline()
	err := c.client.Auth(smtp.PlainAuth("", username, secret, c.host))
	if isPermanentReply(err) {
		return fmt.Errorf("%w: %v", ErrAuthRefused, err)
	}
	return err
}

func (c *smtpConn) Send(from, to string, msg io.WriterTo) error {
	c.extendDeadline()
	if err := c.client.Mail(from); err != nil {
		if isPermanentReply(err) {
			return fmt.Errorf("%w: %v", ErrSenderRefused, err)
		}
		return err
	}
	if err := c.client.Rcpt(to); err != nil {
		if isPermanentReply(err) {
			return fmt.Errorf("%w: %v", ErrRecipientRefused, err)
		}
		return err
	}

	w, err := c.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Close ends the session with QUIT and releases the connection. Errors are
// swallowed: the outcome of the delivery is already decided.
func (c *smtpConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.extendDeadline()
	if err := c.client.Quit(); err != nil {
		_ = c.client.Close()
	}
	return nil
}

// isPermanentReply reports whether err is a 5xx SMTP reply.
func isPermanentReply(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 500 && protoErr.Code < 600
}
