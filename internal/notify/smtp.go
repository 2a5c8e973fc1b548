// Package notify sends invite notifications.
package notify

import (
	"context"
	_ "embed"
	"html/template"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"

	"github.com/charleshuang3/onboard/internal/invite"
)

const (
	sendTimeout = 15 * time.Second
)

//go:embed templates/invite_email.html
var inviteEmailTemplateFile string

var inviteEmailTemplate = template.Must(template.New("inviteEmail").Parse(inviteEmailTemplateFile))

var (
	logger = log.With().Str("component", "notify").Logger()

	// tests use this to override the smtp client
	deliver = dialAndSend
)

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func (c *SMTPConfig) Enabled() bool {
	return c.Host != ""
}

func (c *SMTPConfig) Validate() {
	if !c.Enabled() {
		return
	}
	if c.From == "" {
		logger.Fatal().Msg("SMTPConfig: From is missing")
	}
	if c.Port == 0 {
		c.Port = 587
	}
}

func dialAndSend(ctx context.Context, conf *SMTPConfig, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(conf.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(sendTimeout),
	}
	if conf.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(conf.Username),
			mail.WithPassword(conf.Password),
		)
	}

	client, err := mail.NewClient(conf.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}

type SMTPDispatcher struct {
	conf *SMTPConfig
}

func NewSMTPDispatcher(conf *SMTPConfig) *SMTPDispatcher {
	return &SMTPDispatcher{conf: conf}
}

// singleLine collapses every whitespace run, line breaks included, into one
// space. Names end up in mail headers.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (d *SMTPDispatcher) newMessage(msg *invite.InviteMessage) (*mail.Msg, error) {
	data := *msg
	data.OrganizationName = singleLine(msg.OrganizationName)
	data.InviterName = singleLine(msg.InviterName)

	m := mail.NewMsg()
	if err := m.From(d.conf.From); err != nil {
		return nil, err
	}
	if err := m.To(msg.Email); err != nil {
		return nil, err
	}

	subject := "You are invited"
	if data.OrganizationName != "" {
		subject = "You are invited to join " + data.OrganizationName
	}
	m.Subject(subject)

	if err := m.SetBodyHTMLTemplate(inviteEmailTemplate, &data); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *SMTPDispatcher) SendInvite(ctx context.Context, msg *invite.InviteMessage) bool {
	m, err := d.newMessage(msg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build invite email")
		return false
	}

	if err := deliver(ctx, d.conf, m); err != nil {
		logger.Error().Err(err).Str("host", d.conf.Host).Msg("Failed to send invite email")
		return false
	}
	return true
}

// ManualDispatcher never sends anything, admins share the invite link
// themselves.
type ManualDispatcher struct{}

func (ManualDispatcher) SendInvite(_ context.Context, msg *invite.InviteMessage) bool {
	logger.Info().Str("role", msg.Role).Msg("Email delivery disabled, invite link must be shared manually")
	return false
}

// New returns the SMTP dispatcher when conf has a host, ManualDispatcher
// otherwise.
func New(conf *SMTPConfig) invite.NotificationDispatcher {
	if conf.Enabled() {
		return NewSMTPDispatcher(conf)
	}
	return ManualDispatcher{}
}
