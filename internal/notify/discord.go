package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Embed colors.
const (
	colorAlert = 15158332
	colorInfo  = 3447003
)

// Discord embed limits.
const (
	discordTitleLimit       = 256
	discordDescriptionLimit = 4096
	discordFieldValueLimit  = 1024
	discordMaxFields        = 25
)

// DiscordNotifier posts messages to a Discord webhook.
type DiscordNotifier struct {
	webhookPoster
}

// NewDiscordNotifier creates a DiscordNotifier with the given webhook URL.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{webhookPoster: newWebhookPoster("discord", webhookURL, 30*time.Second)}
}

type discordEmbed struct {
	Title       string         `json:"title"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// BuildDiscordPayload renders msg as a single Discord embed.
func BuildDiscordPayload(msg Message) discordPayload {
	color := colorInfo
	if msg.Alert {
		color = colorAlert
	}

	fields := make([]discordField, 0, len(msg.Fields))
	for i, f := range msg.Fields {
		if i == discordMaxFields {
			break
		}
		value := f.Value
		if value == "" {
			value = "-"
		}
		fields = append(fields, discordField{
			Name:   f.Name,
			Value:  Truncate(value, discordFieldValueLimit),
			Inline: len(value) <= 40,
		})
	}

	embed := discordEmbed{
		Title:       Truncate(msg.Title, discordTitleLimit),
		URL:         msg.URL,
		Description: Truncate(msg.Body, discordDescriptionLimit),
		Color:       color,
		Fields:      fields,
	}
	if msg.Repo != "" {
		embed.Footer = &discordFooter{Text: fmt.Sprintf("issuesla - %s", msg.Repo)}
	}

	return discordPayload{Embeds: []discordEmbed{embed}}
}

// Notify posts msg to Discord, retrying once on transient failures.
func (d *DiscordNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(BuildDiscordPayload(msg))
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}
	return d.send(ctx, body)
}
