// Package notify implements multi-channel notification delivery
// (email/SMS/Slack/Teams/webhook/PagerDuty) as a call_service-reachable
// action.Service. Grounded on the teacher's internal/notification.Manager
// (per-channel rate limiters, retry queue, worker pool, template
// rendering) adapted from its Postgres-backed Notification rows to a
// direct call_service{service:"notify", method:"<channel>", args} shape
// since this engine has no notification table of its own.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/smtp"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/go-resty/resty/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"github.com/hamicek/noex-rules-sub007/internal/config"
)

// Manager dispatches notification deliveries by channel name and
// implements action.Service so rules reach it via
// call_service{service:"notify", method:"email"|"sms"|"slack"|"teams"|
// "webhook"|"pagerduty", args:{...}}.
type Manager struct {
	cfg    config.NotificationsConfig
	logger *slog.Logger

	emailText *pongo2.Template
	emailHTML *pongo2.Template
	smsText   *pongo2.Template

	http *resty.Client

	limitersMu sync.RWMutex
	limiters   map[string]*rate.Limiter

	retryQueue chan retryItem
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

type retryItem struct {
	method string
	args   map[string]interface{}
	tries  int
}

const defaultEmailText = `Subject: {{ subject }}

{{ message }}

Priority: {{ priority }}
`

const defaultEmailHTML = `<!DOCTYPE html>
<html><body>
<h2>{{ subject }}</h2>
<p>{{ message }}</p>
<p><strong>Priority:</strong> {{ priority }}</p>
</body></html>
`

const defaultSMS = `ALERT: {{ subject }} - {{ message }} (Priority: {{ priority }})`

// New constructs a Manager. Per-channel clients (SendGrid, Twilio) are
// constructed lazily at send time from the credentials in cfg, since a
// deployment may only ever use a subset of channels.
func New(cfg config.NotificationsConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	emailText, err := pongo2.FromString(defaultEmailText)
	if err != nil {
		return nil, fmt.Errorf("parse default email text template: %w", err)
	}
	emailHTML, err := pongo2.FromString(defaultEmailHTML)
	if err != nil {
		return nil, fmt.Errorf("parse default email html template: %w", err)
	}
	smsText, err := pongo2.FromString(defaultSMS)
	if err != nil {
		return nil, fmt.Errorf("parse default sms template: %w", err)
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		emailText:  emailText,
		emailHTML:  emailHTML,
		smsText:    smsText,
		http:       resty.New().SetTimeout(cfg.Webhook.Timeout),
		limiters:   make(map[string]*rate.Limiter),
		retryQueue: make(chan retryItem, 256),
		shutdownCh: make(chan struct{}),
	}
	m.initLimiters()
	return m, nil
}

func (m *Manager) initLimiters() {
	add := func(channel string, rps float64) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			m.limiters[channel] = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
	add("email", m.cfg.Email.RateLimitRPS)
	add("sms", m.cfg.SMS.RateLimitRPS)
	add("slack", m.cfg.Slack.RateLimitRPS)
	add("teams", m.cfg.Teams.RateLimitRPS)
	add("webhook", m.cfg.Webhook.RateLimitRPS)
	add("pagerduty", m.cfg.PagerDuty.RateLimitRPS)
}

// Start begins the retry-queue worker pool.
func (m *Manager) Start(ctx context.Context) {
	workers := m.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
}

// Stop drains the worker pool.
func (m *Manager) Stop() {
	close(m.shutdownCh)
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case item := <-m.retryQueue:
			if err := m.dispatch(ctx, item.method, item.args); err != nil {
				m.logger.Error("notification retry failed", "channel", item.method, "error", err)
			}
		}
	}
}

// Call implements action.Service: method names the channel, args carries
// recipient/subject/message and any channel-specific fields.
func (m *Manager) Call(ctx context.Context, method string, args map[string]interface{}) error {
	channel := method
	m.limitersMu.RLock()
	limiter := m.limiters[channel]
	m.limitersMu.RUnlock()
	if limiter != nil && !limiter.Allow() {
		return fmt.Errorf("rate limit exceeded for channel %q", channel)
	}
	return m.dispatch(ctx, channel, args)
}

func (m *Manager) dispatch(ctx context.Context, channel string, args map[string]interface{}) error {
	var err error
	switch channel {
	case "email":
		err = m.sendEmail(ctx, args)
	case "sms":
		err = m.sendSMS(ctx, args)
	case "slack":
		err = m.sendSlack(ctx, args)
	case "teams":
		err = m.sendTeams(ctx, args)
	case "webhook":
		err = m.sendWebhook(ctx, args)
	case "pagerduty":
		err = m.sendPagerDuty(ctx, args)
	default:
		return fmt.Errorf("unsupported notification channel: %q", channel)
	}
	if err != nil {
		m.logger.Error("notification send failed", "channel", channel, "error", err)
	}
	return err
}

// Retry enqueues args for redelivery on channel after an exponential
// backoff with real jitter, up to cfg.RetryMax attempts. The teacher's
// equivalent jitter term always evaluated to zero (`0.5 - 0.5`); this
// uses math/rand so repeated retries actually spread out.
func (m *Manager) Retry(channel string, args map[string]interface{}, tries int) {
	if tries >= m.cfg.RetryMax {
		m.logger.Error("notification exhausted retries", "channel", channel, "tries", tries)
		return
	}
	delay := retryDelay(tries)
	go func() {
		select {
		case <-time.After(delay):
		case <-m.shutdownCh:
			return
		}
		select {
		case m.retryQueue <- retryItem{method: channel, args: args, tries: tries + 1}:
		case <-m.shutdownCh:
		}
	}()
}

func retryDelay(tries int) time.Duration {
	base := time.Second * time.Duration(1<<tries)
	jitter := time.Duration(rand.Float64() * 0.2 * float64(base))
	return base + jitter
}

func templateData(args map[string]interface{}) pongo2.Context {
	ctx := pongo2.Context{
		"subject":  args["subject"],
		"message":  args["message"],
		"priority": args["priority"],
	}
	if extra, ok := args["data"].(map[string]interface{}); ok {
		for k, v := range extra {
			ctx[k] = v
		}
	}
	return ctx
}

func renderEmail(m *Manager, args map[string]interface{}) (text, html string, err error) {
	data := templateData(args)
	var textBuf, htmlBuf bytes.Buffer
	if err := m.emailText.ExecuteWriter(data, &textBuf); err != nil {
		return "", "", fmt.Errorf("render email text template: %w", err)
	}
	if err := m.emailHTML.ExecuteWriter(data, &htmlBuf); err != nil {
		return "", "", fmt.Errorf("render email html template: %w", err)
	}
	return textBuf.String(), htmlBuf.String(), nil
}

func renderSMS(m *Manager, args map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := m.smsText.ExecuteWriter(templateData(args), &buf); err != nil {
		return "", fmt.Errorf("render sms template: %w", err)
	}
	return buf.String(), nil
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func (m *Manager) sendEmail(ctx context.Context, args map[string]interface{}) error {
	text, html, err := renderEmail(m, args)
	if err != nil {
		return err
	}
	recipient := stringArg(args, "recipient")
	subject := stringArg(args, "subject")

	switch m.cfg.Email.Provider {
	case "smtp":
		return m.sendEmailSMTP(recipient, subject, html)
	default:
		from := mail.NewEmail("noex-rules", m.cfg.Email.FromAddress)
		to := mail.NewEmail("", recipient)
		message := mail.NewSingleEmail(from, subject, to, text, html)
		client := sendgrid.NewSendClient(m.cfg.Email.SendGridKey)
		_, err := client.SendWithContext(ctx, message)
		if err != nil {
			return fmt.Errorf("send email via sendgrid: %w", err)
		}
		return nil
	}
}

func (m *Manager) sendEmailSMTP(recipient, subject, html string) error {
	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s", recipient, subject, html)
	return smtp.SendMail("localhost:25", nil, m.cfg.Email.FromAddress, []string{recipient}, []byte(msg))
}

func (m *Manager) sendSMS(ctx context.Context, args map[string]interface{}) error {
	body, err := renderSMS(m, args)
	if err != nil {
		return err
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: m.cfg.SMS.TwilioSID,
		Password: m.cfg.SMS.TwilioToken,
	})
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(stringArg(args, "recipient"))
	params.SetFrom(m.cfg.SMS.FromNumber)
	params.SetBody(body)
	if _, err := client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms via twilio: %w", err)
	}
	return nil
}

type slackPayload struct {
	Text string `json:"text"`
}

func (m *Manager) sendSlack(ctx context.Context, args map[string]interface{}) error {
	if m.cfg.Slack.WebhookURL == "" {
		return fmt.Errorf("slack webhook not configured")
	}
	body, err := renderSMS(m, args)
	if err != nil {
		return err
	}
	resp, err := m.http.R().SetContext(ctx).SetBody(slackPayload{Text: body}).Post(m.cfg.Slack.WebhookURL)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook returned %s", resp.Status())
	}
	return nil
}

type teamsPayload struct {
	Text string `json:"text"`
}

func (m *Manager) sendTeams(ctx context.Context, args map[string]interface{}) error {
	if m.cfg.Teams.WebhookURL == "" {
		return fmt.Errorf("teams webhook not configured")
	}
	body, err := renderSMS(m, args)
	if err != nil {
		return err
	}
	resp, err := m.http.R().SetContext(ctx).SetBody(teamsPayload{Text: body}).Post(m.cfg.Teams.WebhookURL)
	if err != nil {
		return fmt.Errorf("post to teams: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("teams webhook returned %s", resp.Status())
	}
	return nil
}

func (m *Manager) sendWebhook(ctx context.Context, args map[string]interface{}) error {
	url := stringArg(args, "url")
	if url == "" {
		return fmt.Errorf("webhook action requires a url argument")
	}
	body := args["data"]
	req := m.http.R().SetContext(ctx).SetBody(body)
	if m.cfg.Webhook.SigningKey != "" {
		sig, err := signPayload(m.cfg.Webhook.SigningKey, body)
		if err != nil {
			return err
		}
		req.SetHeader("X-Noex-Signature", sig)
	}
	resp, err := req.Post(url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}

type pagerDutyPayload struct {
	RoutingKey  string `json:"routing_key"`
	EventAction string `json:"event_action"`
	Payload     struct {
		Summary  string `json:"summary"`
		Source   string `json:"source"`
		Severity string `json:"severity"`
	} `json:"payload"`
}

func (m *Manager) sendPagerDuty(ctx context.Context, args map[string]interface{}) error {
	if m.cfg.PagerDuty.IntegrationKey == "" {
		return fmt.Errorf("pagerduty integration key not configured")
	}
	payload := pagerDutyPayload{RoutingKey: m.cfg.PagerDuty.IntegrationKey, EventAction: "trigger"}
	payload.Payload.Summary = stringArg(args, "message")
	payload.Payload.Source = "noex-rules"
	payload.Payload.Severity = stringArg(args, "priority")
	resp, err := m.http.R().SetContext(ctx).SetBody(payload).Post("https://events.pagerduty.com/v2/enqueue")
	if err != nil {
		return fmt.Errorf("post to pagerduty: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("pagerduty returned %s", resp.Status())
	}
	return nil
}
