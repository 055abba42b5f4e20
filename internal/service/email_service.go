package service

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/models"
)

// EmailService 邮件发送服务
type EmailService struct {
	cfg *config.EmailConfig
}

// NewEmailService 创建邮件服务
func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// Enabled 邮件通道是否可用
func (s *EmailService) Enabled() bool {
	return s != nil && s.cfg != nil && s.cfg.Enabled
}

// FlaggedConversionEmailInput 风险转化告警邮件输入
type FlaggedConversionEmailInput struct {
	ConversionID uint
	ProgramName  string
	AffiliateID  uint
	OrderID      string
	OrderTotal   models.Money
	Currency     string
	FraudScore   int
}

// SendFlaggedConversionEmail 向商户告警邮箱发送风险转化提醒
func (s *EmailService) SendFlaggedConversionEmail(toEmail string, input FlaggedConversionEmailInput) error {
	subject := fmt.Sprintf("Conversion #%d flagged for review", input.ConversionID)
	body := fmt.Sprintf(
		"Conversion #%d in program %s was flagged with fraud score %d.\n\nAffiliate: %d\nOrder: %s\nTotal: %s %s\n\nNo payout has been created for this conversion.",
		input.ConversionID, input.ProgramName, input.FraudScore, input.AffiliateID, input.OrderID, input.OrderTotal.String(), input.Currency,
	)
	return s.sendTextEmail(toEmail, subject, body)
}

// PayoutReleasedEmailInput 结算打款通知邮件输入
type PayoutReleasedEmailInput struct {
	PayoutID uint
	Amount   models.Money
	Currency string
}

// SendPayoutReleasedEmail 通知推广者结算单已打款
func (s *EmailService) SendPayoutReleasedEmail(toEmail string, input PayoutReleasedEmailInput) error {
	subject := fmt.Sprintf("Payout #%d released", input.PayoutID)
	body := fmt.Sprintf("Your payout #%d of %s %s has been released.", input.PayoutID, input.Amount.String(), input.Currency)
	return s.sendTextEmail(toEmail, subject, body)
}

// SendCustomEmail 发送自定义邮件
func (s *EmailService) SendCustomEmail(toEmail, subject, body string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "Notification"
	}
	return s.sendTextEmail(toEmail, subject, strings.TrimSpace(body))
}

func (s *EmailService) sendTextEmail(toEmail, subject, body string) error {
	if s == nil || s.cfg == nil || !s.cfg.Enabled {
		return ErrEmailServiceDisabled
	}
	if s.cfg.Host == "" || s.cfg.Port == 0 || s.cfg.From == "" {
		return ErrEmailServiceNotConfigured
	}
	if _, err := mail.ParseAddress(toEmail); err != nil {
		return ErrInvalidEmail
	}

	from := buildFromAddress(s.cfg.From, s.cfg.FromName)
	msg := buildEmailMessage(from, toEmail, subject, body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" || s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if s.cfg.UseSSL {
		return normalizeEmailSendError(sendMailWithSSL(addr, auth, s.cfg.Host, s.cfg.From, []string{toEmail}, []byte(msg)))
	}
	if s.cfg.UseTLS {
		return normalizeEmailSendError(sendMailWithStartTLS(addr, auth, s.cfg.Host, s.cfg.From, []string{toEmail}, []byte(msg)))
	}
	return normalizeEmailSendError(sendMailPlain(addr, auth, s.cfg.Host, s.cfg.From, []string{toEmail}, []byte(msg)))
}

func buildFromAddress(from, name string) string {
	if strings.TrimSpace(name) == "" {
		return from
	}
	encoded := mime.QEncoding.Encode("UTF-8", name)
	return (&mail.Address{Name: encoded, Address: from}).String()
}

func buildEmailMessage(from, to, subject, body string) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.String()
}

func sendMailWithSSL(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendMailWithStartTLS(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return err
	}

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendMailPlain(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendSMTPData(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func normalizeEmailSendError(err error) error {
	if err == nil {
		return nil
	}
	if isEmailRecipientRejected(err) {
		return ErrEmailRecipientRejected
	}
	return err
}

func isEmailRecipientRejected(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	directKeywords := []string{
		"no such recipient",
		"no such user",
		"recipient not found",
		"recipient address rejected",
		"invalid recipient",
		"user unknown",
		"unknown user",
		"unknown mailbox",
		"mailbox unavailable",
	}
	for _, keyword := range directKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	if strings.Contains(message, "550") {
		hints := []string{"recipient", "user", "mailbox", "address", "rcpt"}
		for _, hint := range hints {
			if strings.Contains(message, hint) {
				return true
			}
		}
	}
	return false
}
