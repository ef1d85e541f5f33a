package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/codestreak/backend/internal/platform"
)

// EmailConfig carries the SMTP transport settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Logger   *zap.Logger
}

// EmailNotifier delivers streak outcomes and pending-break warnings by mail.
// Every delivery is fire-and-forget: failures are logged and swallowed so
// notification trouble never blocks a reconciliation.
type EmailNotifier struct {
	addr   string
	auth   smtp.Auth
	from   string
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
	logger *zap.Logger
}

// NewEmailNotifier constructs the SMTP notifier.
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("notify: sender address is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &EmailNotifier{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, port),
		auth:   auth,
		from:   cfg.From,
		send:   smtp.SendMail,
		logger: logger,
	}, nil
}

// StreakResult mails the outcome of a committed transition.
func (n *EmailNotifier) StreakResult(ctx context.Context, contact string, plat platform.Platform, maintained bool) {
	name := strings.ToUpper(plat.String())
	var subject, body string
	if maintained {
		subject = fmt.Sprintf("Streak Maintained on %s", name)
		body = fmt.Sprintf("Great job! You've solved a problem today on %s. Keep the streak alive!", plat)
	} else {
		subject = fmt.Sprintf("You Missed Your %s Streak", name)
		body = fmt.Sprintf("You didn't submit anything today on %s. Your streak has been reset. Don't give up!", plat)
	}
	n.deliver(ctx, contact, subject, body)
}

// PendingWarning mails a day-end reminder for a platform not yet checked in.
func (n *EmailNotifier) PendingWarning(ctx context.Context, contact string, plat platform.Platform) {
	subject := fmt.Sprintf("Your %s Streak Is About to Break", strings.ToUpper(plat.String()))
	body := fmt.Sprintf("You haven't solved anything on %s today. There's still time before midnight!", plat)
	n.deliver(ctx, contact, subject, body)
}

func (n *EmailNotifier) deliver(ctx context.Context, contact, subject, body string) {
	if ctx.Err() != nil {
		return
	}
	message := []byte(fmt.Sprintf("From: CodeStreak Notifier <%s>\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.from, contact, subject, body))

	if err := n.send(n.addr, n.auth, n.from, []string{contact}, message); err != nil {
		n.logger.Warn("email delivery failed",
			zap.String("contact", contact),
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	n.logger.Debug("email sent",
		zap.String("contact", contact),
		zap.String("subject", subject))
}

// LogNotifier stands in when SMTP is unconfigured; it records deliveries in
// the service log only.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs the logging fallback notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// StreakResult logs the outcome instead of delivering it.
func (n *LogNotifier) StreakResult(_ context.Context, contact string, plat platform.Platform, maintained bool) {
	n.logger.Info("streak notification",
		zap.String("contact", contact),
		zap.String("platform", plat.String()),
		zap.Bool("maintained", maintained))
}

// PendingWarning logs the reminder instead of delivering it.
func (n *LogNotifier) PendingWarning(_ context.Context, contact string, plat platform.Platform) {
	n.logger.Info("streak warning",
		zap.String("contact", contact),
		zap.String("platform", plat.String()))
}
