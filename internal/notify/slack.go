package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// SlackNotifier posts run results to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the run details below the headline
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

// SlackField is one labelled value of an attachment. Short fields are laid
// out side by side.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a Slack notifier. An empty webhook URL disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SlackColor returns the Slack color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// NewSlackMessage renders n as a webhook payload
func NewSlackMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Type),
		Text:   n.Message,
		Fields: slackFields(n),
		Footer: "adw-orchestrator",
	}
	if n.RunID != "" {
		att.Title = "Run " + n.RunID
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

func slackFields(n Notification) []SlackField {
	var fields []SlackField
	if n.Phase != "" {
		fields = append(fields, SlackField{Title: "Failed phase", Value: n.Phase.Title(), Short: true})
	}
	if n.Type != NotifyInfo {
		fields = append(fields, SlackField{Title: "Exit code", Value: strconv.Itoa(n.ExitCode), Short: true})
	}
	if n.Attempts > 0 {
		fields = append(fields, SlackField{Title: "Test attempts", Value: strconv.Itoa(n.Attempts), Short: true})
	}
	if n.Usage != "" && n.Usage != n.Message {
		fields = append(fields, SlackField{Title: "Usage", Value: n.Usage})
	}
	if n.RunDir != "" {
		fields = append(fields, SlackField{Title: "Run directory", Value: "`" + n.RunDir + "`"})
	}
	return fields
}

// Send posts n to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil // Disabled
	}

	payload, err := json.Marshal(NewSlackMessage(n))
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
