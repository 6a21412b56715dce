// Package notify builds and delivers the batch outcome emails sent to
// submitters and the failure notices sent to operators.
package notify

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"

	"trainsync/internal/platform/config"
	"trainsync/internal/registry"
	"trainsync/internal/sync/models"
)

//go:embed templates/*.json
var templateFS embed.FS

const maxSendAttempts = 5

// Attachment is a file bundled with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is one outbound email.
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer delivers messages. Implementations must be safe for sequential use
// from the single worker.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier renders notification templates and delivers them with bounded
// retries.
type Notifier struct {
	mailer    Mailer
	company   config.CompanyConfig
	operators []string
	log       *slog.Logger
}

func New(mailer Mailer, company config.CompanyConfig, operators []string, log *slog.Logger) *Notifier {
	return &Notifier{mailer: mailer, company: company, operators: operators, log: log}
}

// CertificateBatchReport sends the single end-of-batch email for a
// certificate upload: the failure list plus the bundled artifact archive.
func (n *Notifier) CertificateBatchReport(ctx context.Context, uploader string, failures []models.Outcome, fileName string, bundle []byte) error {
	tpl, err := loadTemplate("certificate_failed_users")
	if err != nil {
		return err
	}

	var list strings.Builder
	list.WriteString("<ul>")
	for _, f := range failures {
		course := registry.CleanCourseName(f.Record.CourseName)
		fmt.Fprintf(&list, "<li>%s for %s<ul><li>Reason: %s</li></ul></li>",
			f.Record.FullName(), course, f.Reason)
	}
	list.WriteString("</ul>")

	msg := Message{
		To:      []string{uploader},
		Subject: n.expand(tpl.Email.Subject, nil),
		Body: n.expand(tpl.Email.Body, map[string]string{
			"{email}":         uploader,
			"{failed_users}":  list.String(),
			"{failed_amount}": strconv.Itoa(len(failures)),
			"{file_name}":     fileName,
		}),
	}
	if len(bundle) > 0 {
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename: "certificates.zip",
			Content:  bundle,
		})
	}
	return n.deliver(ctx, msg)
}

// StudentBatchReport sends the single end-of-batch email for a student
// upload. No artifacts: student batches render nothing.
func (n *Notifier) StudentBatchReport(ctx context.Context, uploader string, failures []models.Outcome, fileName string) error {
	tpl, err := loadTemplate("student_failed_users")
	if err != nil {
		return err
	}

	var list strings.Builder
	list.WriteString("<ul>")
	for _, f := range failures {
		reason := f.Reason
		if reason == "" {
			reason = "Please upload manually"
		}
		fmt.Fprintf(&list, "<li>%s<ul><li>Reason: %s</li></ul></li>",
			f.Record.FullName(), reason)
	}
	list.WriteString("</ul>")

	if fileName == "" {
		fileName = "'no file name provided'"
	}

	msg := Message{
		To:      []string{uploader},
		Subject: n.expand(tpl.Email.Subject, nil),
		Body: n.expand(tpl.Email.Body, map[string]string{
			"{email}":         uploader,
			"{failed_users}":  list.String(),
			"{failed_amount}": strconv.Itoa(len(failures)),
			"{file_name}":     fileName,
		}),
	}
	return n.deliver(ctx, msg)
}

// OperatorFailure emails the operator list about a systemic failure. Used as
// the email leg of the ops alert side channel.
func (n *Notifier) OperatorFailure(ctx context.Context, summary, detail string) error {
	if len(n.operators) == 0 {
		return nil
	}
	tpl, err := loadTemplate("sync_error")
	if err != nil {
		return err
	}
	msg := Message{
		To:      n.operators,
		Subject: n.expand(tpl.Email.Subject, nil),
		Body: n.expand(tpl.Email.Body, map[string]string{
			"{error_message}": summary,
			"{error_detail}":  detail,
		}),
	}
	return n.deliver(ctx, msg)
}

func (n *Notifier) deliver(ctx context.Context, msg Message) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := n.mailer.Send(ctx, msg); err != nil {
			n.log.Warn("email delivery failed, retrying", "to", msg.To, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithMaxTries(maxSendAttempts))
	if err != nil {
		return fmt.Errorf("deliver %q: %w", msg.Subject, err)
	}
	return nil
}

// expand substitutes company branding plus any message-specific values.
func (n *Notifier) expand(text string, extra map[string]string) string {
	values := map[string]string{
		"{company_name}":  n.company.Name,
		"{company_phone}": n.company.Phone,
		"{company_url}":   n.company.URL,
		"{company_email}": n.company.Email,
	}
	for k, v := range extra {
		values[k] = v
	}
	for k, v := range values {
		text = strings.ReplaceAll(text, k, v)
	}
	return text
}

type template struct {
	Email struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	} `json:"email"`
}

func loadTemplate(name string) (template, error) {
	raw, err := templateFS.ReadFile("templates/" + name + ".json")
	if err != nil {
		return template{}, fmt.Errorf("load template %s: %w", name, err)
	}
	var tpl template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return template{}, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tpl, nil
}
