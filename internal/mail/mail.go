// Package mail delivers verification and password reset codes.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"campuscoin/internal/logger"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTP sends plain text mail through an authenticated relay.
type SMTP struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

func (s SMTP) Send(_ context.Context, msg Message) error {
	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Password, s.Host)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(s.Host+":"+s.Port, auth, s.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}

// Log writes messages to the request logger instead of sending them.
type Log struct{}

func (Log) Send(ctx context.Context, msg Message) error {
	logger.FromContext(ctx).WithField("to", msg.To).WithField("subject", msg.Subject).Info(msg.Body)
	return nil
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

// Last returns the most recent message sent to the address.
func (r *Recorder) Last(to string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if strings.EqualFold(r.sent[i].To, to) {
			return r.sent[i], true
		}
	}
	return Message{}, false
}

func VerificationCode(to, code string) Message {
	return Message{
		To:      to,
		Subject: "CampusCoin email verification",
		Body:    "Your CampusCoin verification code is: " + code,
	}
}

func PasswordReset(to, code string) Message {
	return Message{
		To:      to,
		Subject: "CampusCoin password reset",
		Body:    "Your CampusCoin password reset code is: " + code,
	}
}
