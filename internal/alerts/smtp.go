package alerts

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
)

// SMTPSink emails budget alerts to the notification's recipient list.
type SMTPSink struct {
	cfg config.SMTPConfig
}

// NewSMTPSink returns nil when the mail relay is not configured.
func NewSMTPSink(cfg config.SMTPConfig) *SMTPSink {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port == 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPSink{cfg: cfg}
}

func (s *SMTPSink) Name() string { return "email" }

func (s *SMTPSink) Notify(ctx context.Context, n Notification) error {
	if s == nil {
		return nil
	}
	recipients := make([]string, 0, len(n.Emails))
	for _, rcpt := range n.Emails {
		if strings.TrimSpace(rcpt) != "" {
			recipients = append(recipients, rcpt)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	msg := buildEmailMessage(s.cfg.From, recipients, n)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	client, err := s.newClient(ctx, addr)
	if err != nil {
		return classifySMTP(err)
	}
	defer client.Close()

	if err := client.Mail(s.cfg.From); err != nil {
		client.Quit()
		return classifySMTP(err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			client.Quit()
			return classifySMTP(err)
		}
	}
	wc, err := client.Data()
	if err != nil {
		client.Quit()
		return classifySMTP(err)
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		client.Quit()
		return err
	}
	if err := wc.Close(); err != nil {
		client.Quit()
		return classifySMTP(err)
	}
	return client.Quit()
}

func (s *SMTPSink) newClient(ctx context.Context, addr string) (*smtp.Client, error) {
	timeout := s.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	host := s.cfg.Host
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if s.cfg.UseTLS {
		tlsCfg := &tls.Config{ServerName: host, InsecureSkipVerify: s.cfg.SkipTLSVerify}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				client.Close()
				return nil, err
			}
		}
	}

	if strings.TrimSpace(s.cfg.Username) != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}

// classifySMTP marks 5xx protocol replies permanent; everything else
// (network failures, 4xx greylisting) stays retryable.
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}
	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code >= 500 {
		return Permanent(err)
	}
	return err
}

func buildEmailMessage(from string, to []string, n Notification) []byte {
	subject := fmt.Sprintf("[Budget %s] Tenant %s", strings.ToUpper(string(n.Level)), n.TenantID)
	body := formatEmailBody(n)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ","))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func formatEmailBody(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tenant ID: %s\n", n.TenantID)
	fmt.Fprintf(&b, "Level: %s\n", strings.ToUpper(string(n.Level)))
	fmt.Fprintf(&b, "Spend: $%s / $%s (%.0f%%)\n",
		n.UsedUSD.StringFixed(2), n.LimitUSD.StringFixed(2), n.Ratio*100)
	if n.APIKeyPrefix != "" {
		fmt.Fprintf(&b, "API Key Prefix: %s\n", n.APIKeyPrefix)
	}
	if n.ModelAlias != "" {
		fmt.Fprintf(&b, "Model Alias: %s\n", n.ModelAlias)
	}
	if !n.WindowEnd.IsZero() {
		fmt.Fprintf(&b, "Window Resets: %s\n", n.WindowEnd.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Timestamp: %s\n", n.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
