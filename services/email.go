package services

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justbri/shelfmark/models"
)

var statusMessages = map[models.Status]string{
	models.StatusApproved:  "Your book request has been approved and is being processed.",
	models.StatusDenied:    "Your book request has been denied.",
	models.StatusFulfilled: "Your book request has been fulfilled! The book should now be available in your library.",
	models.StatusFailed:    "Your book request could not be fulfilled. An admin may retry or find an alternative.",
}

// UserLookup resolves a user by id.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails the requester when their request is approved, denied,
// fulfilled or failed.
type EmailNotifier struct {
	cfg   SMTPConfig
	users UserLookup
	send  sendMailFunc
}

func NewEmailNotifier(cfg SMTPConfig, users UserLookup) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, users: users, send: smtp.SendMail}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) NotifyCreated(context.Context, *models.Request) error {
	return nil
}

func (e *EmailNotifier) NotifyStatusChanged(ctx context.Context, req *models.Request, previous models.Status) error {
	message, ok := statusMessages[req.Status]
	if !ok {
		return nil
	}

	user, err := e.users.GetByID(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load requester: %w", err)
	}
	if user.Email == "" {
		return nil
	}

	msg := e.compose(user.Email, req, message)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	from := e.cfg.From
	if parsed, err := mail.ParseAddress(from); err == nil {
		from = parsed.Address
	}
	if err := e.send(addr, auth, from, []string{user.Email}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", user.Email, err)
	}
	return nil
}

func (e *EmailNotifier) compose(to string, req *models.Request, message string) []byte {
	label := strings.ToUpper(string(req.Status[:1])) + string(req.Status[1:])

	domain := "shelfmark.local"
	if parsed, err := mail.ParseAddress(e.cfg.From); err == nil {
		if _, host, ok := strings.Cut(parsed.Address, "@"); ok && host != "" {
			domain = host
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Request %s: %s\r\n", label, req.Title)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Book: %s\r\n", req.Title)
	fmt.Fprintf(&b, "Status: %s\r\n\r\n", label)
	b.WriteString(message + "\r\n")
	if req.Status == models.StatusDenied && req.AdminNote != "" {
		fmt.Fprintf(&b, "\r\nNote from admin: %s\r\n", req.AdminNote)
	}
	if req.Status == models.StatusFailed && req.FailureReason != "" {
		fmt.Fprintf(&b, "\r\nReason: %s\r\n", req.FailureReason)
	}
	b.WriteString("\r\n-- Shelfmark\r\n")
	return []byte(b.String())
}
