// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-lpc/cellbal/balance"
	mail "gopkg.in/gomail.v2"
)

// MailConfig describes the mail server used to send FAIL notifications.
type MailConfig struct {
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	User     string   `json:"user"`
	Password string   `json:"password"`
	From     string   `json:"from"` // defaults to User
	To       []string `json:"to"`
	Insecure bool     `json:"insecure"` // skip TLS certificate verification
}

type sender interface {
	DialAndSend(msgs ...*mail.Message) error
}

// Mailer sends a summary of failed checks.
type Mailer struct {
	cfg  MailConfig
	dial sender
}

// LoadMailer reads a JSON mail configuration from r.
func LoadMailer(r io.Reader) (*Mailer, error) {
	var cfg MailConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	err := dec.Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("report: could not decode mail config: %w", err)
	}
	return NewMailer(cfg)
}

func NewMailer(cfg MailConfig) (*Mailer, error) {
	if cfg.Server == "" || cfg.Port == 0 || len(cfg.To) == 0 {
		return nil, fmt.Errorf("report: incomplete mail config (server=%q, port=%d, to=%q)",
			cfg.Server, cfg.Port, cfg.To,
		)
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("report: mail config without sender")
	}

	dial := mail.NewDialer(cfg.Server, cfg.Port, cfg.User, cfg.Password)
	if cfg.Insecure {
		dial.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}
	return &Mailer{cfg: cfg, dial: dial}, nil
}

// Message returns the notification for the failed check of the named trace.
func (m *Mailer) Message(name string, rep *balance.Report) *mail.Message {
	sum := NewSummary(rep)

	body := new(strings.Builder)
	fmt.Fprintf(body, "trace:    %s\n", name)
	fmt.Fprintf(body, "result:   %s\n", sum.Result)
	fmt.Fprintf(body, "rows:     %d\n", sum.Rows)
	fmt.Fprintf(body, "failures: %d\n", sum.Failures)
	fmt.Fprintf(body, "dead cells:   %v\n", sum.DeadCells)
	fmt.Fprintf(body, "dead sensors: %v\n", sum.DeadSensors)
	if len(sum.FirstFailures) > 0 {
		fmt.Fprintf(body, "\nfirst failures:\n")
		for _, f := range sum.FirstFailures {
			fmt.Fprintf(body, "  row %d (%s): %s\n", f.Row, f.Time, f.Remark)
		}
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("Bcc", m.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[bal-check] %s: %s", sum.Result, name))
	msg.SetBody("text/plain", body.String())
	return msg
}

// Send sends the notification for the named trace.
func (m *Mailer) Send(name string, rep *balance.Report) error {
	err := m.dial.DialAndSend(m.Message(name, rep))
	if err != nil {
		return fmt.Errorf("report: could not send mail for %q: %w", name, err)
	}
	return nil
}
