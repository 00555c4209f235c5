package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"stock-anomaly/config"
	"stock-anomaly/detection"
)

var alertEmail = template.Must(template.New("alert").Parse(`<html>
<body>
  <h2>Stock Anomaly Alert for {{.Symbol}}</h2>
  <p>The following anomalies were detected:</p>
  {{template "table" .Rows}}
  <p>Please review these anomalies and take appropriate action.</p>
</body>
</html>
{{define "table"}}<table border="1" cellpadding="5">
    <tr><th>Date</th><th>Method</th><th>Score</th><th>Details</th></tr>
    {{- range .}}
    <tr>
      <td>{{.Date}}</td>
      <td>{{.Method}}</td>
      <td>{{.Score}}</td>
      <td>Price: {{.Price}}<br>Volume: {{.Volume}}<br>Threshold: {{.Threshold}}</td>
    </tr>
    {{- end}}
  </table>{{end}}`))

var summaryEmail = template.Must(template.Must(alertEmail.Clone()).New("summary").Parse(`<html>
<body>
  <h2>Daily Stock Anomaly Summary</h2>
  <p>Date: {{.Day}}</p>
  {{- range .Sections}}
  <h3>{{.Symbol}}</h3>
  {{template "table" .Rows}}
  {{- end}}
  <p>Please review these anomalies and take appropriate action.</p>
</body>
</html>`))

type emailSection struct {
	Symbol string
	Rows   []alertRow
}

// sendMailFunc matches smtp.SendMail
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends HTML alerts over SMTP
type EmailNotifier struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailNotifier creates an email notifier from the alert settings
func NewEmailNotifier(cfg config.AlertsConfig) *EmailNotifier {
	from := cfg.EmailFrom
	if from == "" {
		from = cfg.SMTPUser
	}
	return &EmailNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     from,
		to:       cfg.EmailTo,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Name implements Notifier
func (e *EmailNotifier) Name() string { return "email" }

// SendAlert implements Notifier
func (e *EmailNotifier) SendAlert(ctx context.Context, symbol string, anomalies []detection.AnomalyResult) error {
	if len(anomalies) == 0 {
		return nil
	}

	var body bytes.Buffer
	err := alertEmail.Execute(&body, struct {
		Symbol string
		Rows   []alertRow
	}{symbol, rowsFor(anomalies)})
	if err != nil {
		return fmt.Errorf("render alert email: %w", err)
	}
	return e.send(ctx, alertTitle(symbol), body.Bytes())
}

// SendDailySummary implements Notifier
func (e *EmailNotifier) SendDailySummary(ctx context.Context, bySymbol map[string][]detection.AnomalyResult) error {
	day := e.now().Format(time.DateOnly)
	sections := make([]emailSection, 0, len(bySymbol))
	for _, s := range sortedSymbols(bySymbol) {
		sections = append(sections, emailSection{Symbol: s, Rows: rowsFor(bySymbol[s])})
	}

	var body bytes.Buffer
	err := summaryEmail.ExecuteTemplate(&body, "summary", struct {
		Day      string
		Sections []emailSection
	}{day, sections})
	if err != nil {
		return fmt.Errorf("render summary email: %w", err)
	}
	return e.send(ctx, summaryTitle(day), body.Bytes())
}

func (e *EmailNotifier) send(ctx context.Context, subject string, html []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(e.from, e.to, subject, html)
	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	auth := smtp.PlainAuth("", e.user, e.password, e.host)

	if err := e.sendMail(addr, auth, e.from, e.to, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", strings.Join(e.to, ","), err)
	}
	return nil
}

func buildMessage(from string, to []string, subject string, html []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.Write(html)
	return b.Bytes()
}
