package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/repository"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string // 发件人邮箱
	Password string // 授权码/密码
	From     string // 显示的发件人，可与 Username 相同
}

type Sender interface {
	Send(to, subject, htmlBody string) error
}

type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host}
	return d.DialAndSend(m)
}

// 需要通知当事人的动作及邮件主题
var subjects = map[string]string{
	model.ActionApproveRequest:  "加入申请已通过",
	model.ActionRejectRequest:   "加入申请未通过",
	model.ActionKick:            "你已被移出社区",
	model.ActionBan:             "你已被社区封禁",
	model.ActionSuspend:         "你的社区成员资格已被暂停",
	model.ActionReinstate:       "你的社区成员资格已恢复",
	model.ActionChangeRole:      "你的社区角色已变更",
	model.ActionApproveResource: "你提交的资源已通过审核",
	model.ActionRejectResource:  "你提交的资源需要修改",
}

// Mailer 把审核事件转换为发给当事人的邮件
type Mailer struct {
	users  repository.UserStore
	sender Sender
	log    logrus.FieldLogger
}

func NewMailer(users repository.UserStore, sender Sender, log logrus.FieldLogger) *Mailer {
	if log == nil {
		log = pkg.Discard()
	}
	return &Mailer{users: users, sender: sender, log: log}
}

// Handle 满足 Handler 签名，无需通知的事件直接忽略
func (m *Mailer) Handle(ctx context.Context, ev model.ModerationEvent) error {
	subject, ok := subjects[ev.Action]
	if !ok || ev.SubjectID == 0 || ev.SubjectID == ev.ActorID {
		return nil
	}
	u, err := m.users.GetUser(ctx, ev.SubjectID)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", ev.SubjectID, err)
	}
	if !u.Notifiable() {
		m.log.WithField("user_id", u.ID).Debug("user not notifiable, skip notice")
		return nil
	}
	return m.sender.Send(u.Email, subject, NoticeHTML(u.Username, subject, ev))
}

func NoticeHTML(username, subject string, ev model.ModerationEvent) string {
	body := fmt.Sprintf(`<p>%s 您好，</p><p>%s（社区 #%d）。</p>`,
		html.EscapeString(username), html.EscapeString(subject), ev.CommunityID)
	if ev.Reason != "" {
		body += fmt.Sprintf(`<p>原因：%s</p>`, html.EscapeString(ev.Reason))
	}
	if ev.Detail != "" {
		body += fmt.Sprintf(`<p>%s</p>`, html.EscapeString(ev.Detail))
	}
	return body
}
