// Package alert mails a warning when a room becomes uncomfortable.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	mailgun "github.com/mailgun/mailgun-go/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitlab.com/lologarithm/cloudthermo/climate"
	"gitlab.com/lologarithm/cloudthermo/refuge"
)

const sendTimeout = 10 * time.Second

// MailgunConfig is the settings needed to use Mailgun for emails.
type MailgunConfig struct {
	APIKey     string
	Domain     string
	Sender     string
	Recipients []string
}

// Enabled reports whether enough is configured to send mail.
func (mc MailgunConfig) Enabled() bool {
	return mc.APIKey != "" && mc.Domain != "" && len(mc.Recipients) > 0
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

type mailgunSender struct {
	mg  mailgun.Mailgun
	cfg MailgunConfig
}

// NewMailgun returns a Sender backed by the Mailgun API.
func NewMailgun(mc MailgunConfig) Sender {
	return &mailgunSender{mg: mailgun.NewMailgun(mc.Domain, mc.APIKey), cfg: mc}
}

func (m *mailgunSender) Send(ctx context.Context, subject, body string) error {
	message := m.mg.NewMessage(m.cfg.Sender, subject, body, m.cfg.Recipients...)
	resp, id, err := m.mg.Send(ctx, message)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("invalid message id: %s", resp)
	}
	return nil
}

type mail struct {
	subject, body string
}

// Alerter watches records and mails when the comfort label turns
// uncomfortable, at most once per limiter interval.
type Alerter struct {
	send  Sender
	limit *rate.Limiter
	log   *zap.Logger
	queue chan mail
	last  climate.Comfort
}

// New returns an Alerter that sends at most one mail every `every`.
func New(send Sender, every time.Duration, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.L()
	}
	return &Alerter{
		send:  send,
		limit: rate.NewLimiter(rate.Every(every), 1),
		log:   log,
		queue: make(chan mail, 4),
	}
}

// Observe implements node.Observer. It never blocks the caller.
func (a *Alerter) Observe(e refuge.Event) {
	if e.Record == nil {
		return
	}
	st := refuge.Status{Previous: a.last, Current: e.Record.Comfort}
	a.last = e.Record.Comfort
	if !st.BecameUncomfortable() {
		return
	}
	if !a.limit.Allow() {
		a.log.Info("comfort alert throttled")
		return
	}
	m := mail{
		subject: fmt.Sprintf("%s is uncomfortable", e.Name),
		body: fmt.Sprintf("%s at %s: %.1fC, %.1f%% humidity.",
			e.Name, e.Record.Timestamp, e.Record.Temp, e.Record.Humidity),
	}
	select {
	case a.queue <- m:
	default:
		a.log.Warn("comfort alert queue full, dropping alert")
	}
}

// Run sends queued alerts until ctx is done.
func (a *Alerter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.queue:
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := a.send.Send(sctx, m.subject, m.body)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("failed to send alert", zap.Error(err))
				continue
			}
			a.log.Info("comfort alert sent", zap.String("subject", m.subject))
		}
	}
}
