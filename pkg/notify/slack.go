package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/songyu-ren/xagent/pkg/models"
)

// SlackChannel posts the review message to a Slack channel.
type SlackChannel struct {
	api     *slack.Client
	channel string
	baseURL string
}

// NewSlackChannel creates the Slack channel.
func NewSlackChannel(token, channel, baseURL string) *SlackChannel {
	return &SlackChannel{
		api:     slack.New(token),
		channel: channel,
		baseURL: baseURL,
	}
}

// Name implements Channel.
func (c *SlackChannel) Name() string { return "slack" }

// Send implements Channel.
func (c *SlackChannel) Send(ctx context.Context, record *models.ApprovedDraftRecord) error {
	approve, edit, skip := ActionLinks(c.baseURL, record)
	text := fmt.Sprintf("Daily X Draft (%s / %s)\n\n%s\n\nApprove: %s\nEdit: %s\nSkip: %s",
		record.PolicyReport.Action, record.PolicyReport.RiskLevel,
		record.RenderText(), approve, edit, skip)

	_, _, err := c.api.PostMessageContext(ctx, c.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post failed: %w", err)
	}
	return nil
}
