package email

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/alarm-service/internal/model"
)

type Config struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

var bodyTemplate = template.Must(template.New("alarm").Parse(
	`<h2>{{.Title}}</h2><p>{{.Body}}</p><p><small>{{.Tag}}</small></p>`))

// Presenter mails high-priority notifications to a fixed recipient list.
type Presenter struct {
	cfg    Config
	sender Sender
}

func NewPresenter(cfg Config) *Presenter {
	return NewPresenterWithSender(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password))
}

func NewPresenterWithSender(cfg Config, sender Sender) *Presenter {
	return &Presenter{cfg: cfg, sender: sender}
}

func (p *Presenter) Name() string {
	return "email"
}

func (p *Presenter) Present(ctx context.Context, n model.Notification) error {
	if n.Priority != model.AlarmPriorityHigh || len(p.cfg.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var body strings.Builder
	if err := bodyTemplate.Execute(&body, n); err != nil {
		return fmt.Errorf("render mail body: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", p.cfg.From)
	m.SetHeader("To", p.cfg.To...)
	m.SetHeader("Subject", n.Title)
	m.SetBody("text/plain", n.Body)
	m.AddAlternative("text/html", body.String())

	if err := p.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
