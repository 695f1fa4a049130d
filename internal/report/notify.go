package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
	"github.com/ignite/inboxbench/internal/pkg/logger"
)

// Notifier delivers a rendered report somewhere.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, s Summary, html string) error
}

// SlackNotifier posts the Slack text to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	doer       httpretry.HTTPDoer
}

// NewSlackNotifier creates a notifier. A nil doer uses a retrying default client.
func NewSlackNotifier(webhookURL string, doer httpretry.HTTPDoer) *SlackNotifier {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	return &SlackNotifier{webhookURL: webhookURL, doer: doer}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, s Summary, _ string) error {
	payload, err := json.Marshal(map[string]string{"text": s.SlackText()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.doer.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// SESAPI is the subset of the SES v2 client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer emails the HTML report through AWS SES.
type SESMailer struct {
	client SESAPI
	from   string
	to     []string
}

// NewSESMailer creates a mailer over an existing SES client.
func NewSESMailer(client SESAPI, from string, to []string) *SESMailer {
	return &SESMailer{client: client, from: from, to: to}
}

// NewSESMailerFromKeys builds the SES client from static keys, or from the
// default credential chain when the keys are empty.
func NewSESMailerFromKeys(ctx context.Context, region, accessKey, secretKey, from string, to []string) (*SESMailer, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESMailer(sesv2.NewFromConfig(awsCfg), from, to), nil
}

func (m *SESMailer) Name() string { return "email" }

func (m *SESMailer) Notify(ctx context.Context, s Summary, html string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("Inbox Bench <%s>", m.from)),
		Destination:      &types.Destination{ToAddresses: m.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(s.Subject()), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(s.PlainText()), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("workspace"), Value: aws.String(tagValue(s.Workspace))},
		},
	}
	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses: send report: %w", err)
	}
	id := ""
	if out != nil && out.MessageId != nil {
		id = *out.MessageId
	}
	logger.Info("report emailed", "message_id", id, "recipients", len(m.to))
	return nil
}

// tagValue keeps SES message tag values within their allowed alphabet.
func tagValue(s string) string {
	b := []byte(s)
	for i, c := range b {
		ok := c == '_' || c == '-' || c == '.' || c == '@' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			b[i] = '_'
		}
	}
	if len(b) == 0 {
		return "default"
	}
	return string(b)
}
