package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendPath = "/v3/mail/send"

// checkResp returns an error if the status is not 2xx.
// On error it includes the upstream body for debugging.
func checkResp(resp *rest.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body := resp.Body
	if len(body) > 4<<10 {
		body = body[:4<<10]
	}
	return fmt.Errorf("mail-api %s returned %d: %s", path, resp.StatusCode, body)
}

// Mailer sends account emails through the SendGrid v3 API.
type Mailer struct {
	baseURL string
	apiKey  string
	from    *mail.Email
}

func NewMailer(baseURL, apiKey, from string) *Mailer {
	return &Mailer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		from:    mail.NewEmail("", from),
	}
}

// SendWelcome greets a user who just signed up.
func (m *Mailer) SendWelcome(ctx context.Context, to, name string) error {
	return m.send(ctx, to, name, "Thanks for joining in!",
		fmt.Sprintf("Welcome to the app, %s. Let me know how you get along with the app.", name))
}

// SendCancellation says goodbye to a user who deleted their account.
func (m *Mailer) SendCancellation(ctx context.Context, to, name string) error {
	return m.send(ctx, to, name, "Sorry to see you go!",
		fmt.Sprintf("Goodbye, %s. Is there anything we could have done to have kept you on board?", name))
}

func (m *Mailer) send(ctx context.Context, to, name, subject, text string) error {
	msg := mail.NewV3MailInit(m.from, subject, mail.NewEmail(name, to), mail.NewContent("text/plain", text))

	// The client carries the request body, so each send gets its own.
	client := sendgrid.NewSendClient(m.apiKey)
	client.BaseURL = m.baseURL + sendPath

	resp, err := client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("mail-api %s: %w", sendPath, err)
	}
	return checkResp(resp, sendPath)
}
