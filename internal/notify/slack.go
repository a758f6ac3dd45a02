package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SlackNotifier posts messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookPoster
}

// NewSlackNotifier creates a SlackNotifier with the given webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookPoster: newWebhookPoster("slack", webhookURL, 10*time.Second)}
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// slackSectionLimit is the maximum length of a Block Kit section text.
const slackSectionLimit = 3000

// BuildSlackPayload renders msg as a Block Kit message.
func BuildSlackPayload(msg Message) slackPayload {
	header := msg.Title
	if msg.Alert {
		header = ":rotating_light: " + header
	}

	blocks := []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: Truncate(header, 150)},
	}}

	if msg.URL != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf(":link: <%s|%s>", msg.URL, slackEscape(msg.Title))},
		})
	}

	if len(msg.Fields) > 0 {
		fields := make([]slackText, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s:*\n%s", slackEscape(f.Name), slackEscape(f.Value)),
			})
		}
		// Slack accepts at most 10 fields per section.
		for len(fields) > 0 {
			n := min(len(fields), 10)
			blocks = append(blocks, slackBlock{Type: "section", Fields: fields[:n]})
			fields = fields[n:]
		}
	}

	if msg.Body != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: Truncate(slackEscape(msg.Body), slackSectionLimit)},
		})
	}

	if msg.Repo != "" {
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: "issuesla - " + msg.Repo}},
		})
	}

	return slackPayload{Text: msg.Title, Blocks: blocks}
}

// Notify posts msg to Slack, retrying once on transient failures.
func (s *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(BuildSlackPayload(msg))
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}
	return s.send(ctx, body)
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func slackEscape(s string) string {
	return slackEscaper.Replace(s)
}
