package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/keighl/postmark"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var ErrDeliveryRejected = errors.New("email provider rejected the message")

type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
	Tag     string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type PostmarkMailer struct {
	client *postmark.Client
	from   string
}

// NewPostmarkMailer talks to the Postmark API at baseURL, or the public
// endpoint when baseURL is empty.
func NewPostmarkMailer(serverToken, from, baseURL string, timeout time.Duration) *PostmarkMailer {
	client := postmark.NewClient(serverToken, "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &PostmarkMailer{client: client, from: from}
}

func (m *PostmarkMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := m.client.SendEmail(postmark.Email{
		From:     m.from,
		To:       msg.To,
		Subject:  msg.Subject,
		HtmlBody: msg.HTML,
		TextBody: msg.Text,
		Tag:      msg.Tag,
	})
	if res.ErrorCode != 0 {
		return fmt.Errorf("%w: postmark %d %s", ErrDeliveryRejected, res.ErrorCode, res.Message)
	}
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type SendGridMailer struct {
	request rest.Request
	from    *mail.Email
}

// NewSendGridMailer talks to the SendGrid API at host, or the public endpoint
// when host is empty.
func NewSendGridMailer(apiKey, fromName, fromAddress, host string) *SendGridMailer {
	request := sendgrid.GetRequest(apiKey, "/v3/mail/send", host)
	request.Method = "POST"
	return &SendGridMailer{
		request: request,
		from:    mail.NewEmail(fromName, fromAddress),
	}
}

func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	email := mail.NewSingleEmail(m.from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), msg.Text, msg.HTML)
	if msg.Tag != "" {
		email.AddCategories(msg.Tag)
	}
	// the client keeps the body on its request, so each send gets its own copy
	client := &sendgrid.Client{Request: m.request}
	res, err := client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: sendgrid %d %s", ErrDeliveryRejected, res.StatusCode, res.Body)
	}
	return nil
}
