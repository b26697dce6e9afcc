package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/relay/internal/models"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts interrupt notifications to a Slack channel.
type Slack struct {
	client  slackClient
	channel string
	log     *slog.Logger
}

// SlackOpts holds parameters for creating a Slack notifier.
type SlackOpts struct {
	BotToken string // xoxb-... Slack bot token
	Channel  string // channel ID to post to
	Log      *slog.Logger
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Slack{client: opts.Client, channel: opts.Channel, log: log}
	if s.client == nil {
		s.client = slackapi.New(opts.BotToken)
	}
	return s, nil
}

// TaskInterrupted implements dispatch.Notifier. Failed posts are logged
// and dropped.
func (s *Slack) TaskInterrupted(ctx context.Context, tsk *models.Task) {
	blocks := []slackapi.Block{
		slackapi.NewHeaderBlock(slackapi.NewTextBlockObject(
			slackapi.PlainTextType, "Agent task interrupted", false, false)),
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(
			slackapi.MarkdownType, summaryLine(tsk), false, false), nil, nil),
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(
			slackapi.MarkdownType,
			fmt.Sprintf("```%s```", payloadPreview(tsk.InterruptPayload)), false, false), nil, nil),
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessage(s.channel,
			slackapi.MsgOptionText(summaryLine(tsk), false),
			slackapi.MsgOptionBlocks(blocks...))
		return postErr
	})
	if err != nil {
		s.log.Error("slack interrupt notification failed",
			"task_id", tsk.TaskID, "channel", s.channel, "error", err)
		return
	}
	s.log.Debug("slack interrupt notification sent", "task_id", tsk.TaskID, "channel", s.channel)
}

// retryOnRateLimit runs fn, retrying with backoff when Slack reports a
// rate limit. Other errors are returned immediately.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
