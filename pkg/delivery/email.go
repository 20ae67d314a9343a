package delivery

import (
	"context"
	"fmt"
	"io"

	"github.com/wneessen/go-mail"

	"github.com/reportd/reportd/pkg/models"
)

// Attachment is a file carried alongside the message body.
type Attachment struct {
	Name string
	Body io.Reader
}

// EmailMessage is a rendered email ready for transport.
type EmailMessage struct {
	Recipients  []string
	Subject     string
	BodyHTML    string
	BodyText    string
	Attachments []Attachment
}

// EmailSender sends messages through a configured SMTP transport.
type EmailSender interface {
	Send(ctx context.Context, server *models.EmailServer, message *EmailMessage) error
}

// SMTPSender implements EmailSender on go-mail.
type SMTPSender struct{}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{}
}

func (s *SMTPSender) Send(ctx context.Context, server *models.EmailServer, message *EmailMessage) error {
	options := []mail.Option{
		mail.WithPort(server.Port),
		mail.WithTLSPolicy(tlsPolicy(server.Encryption)),
	}

	if server.Encryption == "ssl" {
		options = append(options, mail.WithSSLPort(false))
	}

	if server.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(server.Username),
			mail.WithPassword(server.Password),
		)
	}

	client, err := mail.NewClient(server.Host, options...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client for %s: %w", server.Name, err)
	}

	msg := mail.NewMsg()

	err = msg.FromFormat(server.FromName, server.FromAddress)
	if err != nil {
		return fmt.Errorf("invalid sender address %s: %w", server.FromAddress, err)
	}

	err = msg.To(message.Recipients...)
	if err != nil {
		return fmt.Errorf("invalid recipient list: %w", err)
	}

	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextHTML, message.BodyHTML)

	if message.BodyText != "" {
		msg.AddAlternativeString(mail.TypeTextPlain, message.BodyText)
	}

	for _, attachment := range message.Attachments {
		err = msg.AttachReader(attachment.Name, attachment.Body)
		if err != nil {
			return fmt.Errorf("failed to attach %s: %w", attachment.Name, err)
		}
	}

	err = client.DialAndSendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email via %s: %w", server.Name, err)
	}

	return nil
}

// VerifyConnection probes an SMTP transport configuration by dialing
// and immediately closing the connection.
func VerifyConnection(ctx context.Context, server *models.EmailServer) error {
	options := []mail.Option{
		mail.WithPort(server.Port),
		mail.WithTLSPolicy(tlsPolicy(server.Encryption)),
	}

	if server.Encryption == "ssl" {
		options = append(options, mail.WithSSLPort(false))
	}

	if server.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(server.Username),
			mail.WithPassword(server.Password),
		)
	}

	client, err := mail.NewClient(server.Host, options...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client for %s: %w", server.Name, err)
	}

	err = client.DialWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", server.Name, err)
	}

	return client.Close()
}

func tlsPolicy(encryption string) mail.TLSPolicy {
	switch encryption {
	case "tls", "starttls", "ssl":
		return mail.TLSMandatory
	default:
		return mail.TLSOpportunistic
	}
}
