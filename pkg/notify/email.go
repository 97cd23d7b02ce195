package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/songyu-ren/xagent/pkg/models"
)

// EmailChannel delivers the review email over SMTP.
type EmailChannel struct {
	server   string
	port     int
	username string
	password string
	from     string
	to       string
	baseURL  string
}

// NewEmailChannel creates the SMTP channel.
func NewEmailChannel(server string, port int, username, password, from, to, baseURL string) *EmailChannel {
	return &EmailChannel{
		server:   server,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		baseURL:  baseURL,
	}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return "email" }

// Send implements Channel.
func (c *EmailChannel) Send(_ context.Context, record *models.ApprovedDraftRecord) error {
	preview := record.Text
	if preview == "" && len(record.Tweets) > 0 {
		preview = record.Tweets[0]
	}
	if len(preview) > 30 {
		preview = preview[:30]
	}
	subject := fmt.Sprintf("Daily X Draft: %s - %s...", record.PolicyReport.Action, preview)
	body := c.renderHTML(record)

	var msg strings.Builder
	msg.WriteString("From: " + c.from + "\r\n")
	msg.WriteString("To: " + c.to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", c.server, c.port)
	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.server)
	}
	if err := smtp.SendMail(addr, auth, c.from, []string{c.to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (c *EmailChannel) renderHTML(record *models.ApprovedDraftRecord) string {
	approve, edit, skip := ActionLinks(c.baseURL, record)

	var checks strings.Builder
	for _, check := range record.PolicyReport.Checks {
		mark := "FAIL"
		if check.Passed {
			mark = "OK"
		}
		checks.WriteString(fmt.Sprintf("<li>%s: %s - %s</li>", check.CheckName, mark, check.Details))
	}

	return fmt.Sprintf(`<h2>Daily X Draft (%s)</h2>
<p><strong>Policy Action:</strong> %s</p>
<div style="border: 1px solid #ccc; padding: 15px; background: #f9f9f9; margin: 10px 0;">
  <pre style="white-space: pre-wrap; font-size: 14px;">%s</pre>
</div>
<h3>Policy Check:</h3>
<ul>%s</ul>
<div style="margin-top: 20px;">
  <a href="%s" style="background:green; color:white; padding:10px 20px; text-decoration:none; margin-right:10px;">Approve &amp; Post</a>
  <a href="%s" style="background:blue; color:white; padding:10px 20px; text-decoration:none; margin-right:10px;">Edit</a>
  <a href="%s" style="background:gray; color:white; padding:10px 20px; text-decoration:none;">Skip</a>
</div>`,
		record.PolicyReport.RiskLevel, record.PolicyReport.Action,
		htmlEscape(record.RenderText()), checks.String(),
		approve, edit, skip)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func htmlEscape(s string) string {
	return htmlEscaper.Replace(s)
}
