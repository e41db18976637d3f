package mail

import (
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/snups/snupsd/pkg/config"
)

// TimestampLayout is the format of the event time in notification bodies.
const TimestampLayout = "2006-01-02 15:04:05"

// Request is a single notification handed to a delivery worker.
type Request struct {
	From      string
	To        string
	Subject   string
	Body      string
	Timestamp time.Time
	Signature string
}

// NewRequest builds a notification for text using the addressing of cfg.
func NewRequest(cfg config.Mail, text string, ts time.Time) Request {
	return Request{
		From:      cfg.From,
		To:        cfg.To,
		Subject:   cfg.Subject,
		Body:      text,
		Timestamp: ts,
		Signature: cfg.Signature,
	}
}

// Body renders the notification text, event time and signature block with
// CRLF line endings.
func Body(req Request) string {
	return fmt.Sprintf("%s at %s\r\n\r\n--\r\nWBR,\r\n%s\r\n",
		req.Body, req.Timestamp.Format(TimestampLayout), req.Signature)
}

// Compose renders req as a plain-text message. The body is written unencoded
// so it goes on the wire exactly as Body renders it.
func Compose(req Request) *gomail.Message {
	msg := gomail.NewMessage(gomail.SetCharset("UTF-8"), gomail.SetEncoding(gomail.Unencoded))
	msg.SetHeader("From", req.From)
	msg.SetHeader("To", req.To)
	msg.SetHeader("Subject", req.Subject)
	msg.SetDateHeader("Date", req.Timestamp)
	msg.SetBody("text/plain", Body(req))
	return msg
}
