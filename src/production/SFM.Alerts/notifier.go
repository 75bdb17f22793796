package alerts

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	"gopkg.in/gomail.v2"
)

var alertEmail = template.Must(template.New("alert").Parse(`<html>
  <body style="font-family: Arial, sans-serif;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
      <div style="background-color: {{.Color}}; color: white; padding: 20px; border-radius: 5px 5px 0 0;">
        <h2>Alert Notification</h2>
      </div>
      <div style="background-color: #ecf0f1; padding: 20px; border-radius: 0 0 5px 5px;">
        <p><strong>Device:</strong> {{.Device}}</p>
        <p><strong>Message:</strong> {{.Message}}</p>
        <p><strong>Type:</strong> {{.Type}}</p>
        <p style="color: #7f8c8d; font-size: 12px;">Sent at: {{.SentAt}}</p>
        <p style="color: #7f8c8d; font-size: 12px;">This is an automated message from Smart Farm System.</p>
      </div>
    </div>
  </body>
</html>`))

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier sends alert mails over SMTP
type EmailNotifier struct {
	from   string
	dialer sender
	now    func() time.Time
}

// NewEmailNotifier returns nil when SMTP credentials are missing
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	if !cfg.Enabled() {
		return nil
	}
	return &EmailNotifier{
		from:   cfg.User,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		now:    time.Now,
	}
}

func (n *EmailNotifier) Enabled() bool {
	return n != nil && n.dialer != nil
}

func (n *EmailNotifier) SendAlert(to, deviceName, message string, alertType sfmmodels.AlertType) error {
	m, err := n.compose(to, deviceName, message, alertType)
	if err != nil {
		return err
	}
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send alert email to %s: %w", to, err)
	}
	return nil
}

func (n *EmailNotifier) compose(to, deviceName, message string, alertType sfmmodels.AlertType) (*gomail.Message, error) {
	color := "#f39c12"
	if alertType == sfmmodels.AlertError {
		color = "#e74c3c"
	}

	var body bytes.Buffer
	err := alertEmail.Execute(&body, map[string]string{
		"Color":   color,
		"Device":  deviceName,
		"Message": message,
		"Type":    string(alertType),
		"SentAt":  n.now().Format(time.RFC1123),
	})
	if err != nil {
		return nil, fmt.Errorf("render alert email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("[%s] Alert: %s", strings.ToUpper(string(alertType)), deviceName))
	m.SetBody("text/html", body.String())
	return m, nil
}
