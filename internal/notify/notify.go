// Package notify delivers interrupt notifications to chat platforms.
//
// When an agent round suspends awaiting a human decision, the coordinator
// hands the task to a Notifier. Delivery is best-effort: a failed post is
// logged and dropped, never retried against task state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zulandar/relay/internal/config"
	"github.com/zulandar/relay/internal/dispatch"
	"github.com/zulandar/relay/internal/models"
)

// maxPayloadPreview caps how much of the interrupt payload is shown in a
// notification message.
const maxPayloadPreview = 512

// Fanout delivers each notification to every configured adapter.
type Fanout struct {
	notifiers []dispatch.Notifier
}

// NewFanout creates a Fanout over the given notifiers. Nil entries are
// skipped.
func NewFanout(notifiers ...dispatch.Notifier) *Fanout {
	f := &Fanout{}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// TaskInterrupted implements dispatch.Notifier.
func (f *Fanout) TaskInterrupted(ctx context.Context, tsk *models.Task) {
	for _, n := range f.notifiers {
		n.TaskInterrupted(ctx, tsk)
	}
}

// FromConfig builds the notifier stack for the given config. Adapters are
// active only when both token and channel are set; with none configured it
// returns a Fanout that delivers nowhere.
func FromConfig(cfg config.NotifyConfig, log *slog.Logger) (*Fanout, error) {
	var notifiers []dispatch.Notifier

	if cfg.Slack.BotToken != "" && cfg.Slack.Channel != "" {
		sn, err := NewSlack(SlackOpts{
			BotToken: cfg.Slack.BotToken,
			Channel:  cfg.Slack.Channel,
			Log:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: slack: %w", err)
		}
		notifiers = append(notifiers, sn)
	}

	if cfg.Discord.BotToken != "" && cfg.Discord.Channel != "" {
		dn, err := NewDiscord(DiscordOpts{
			BotToken: cfg.Discord.BotToken,
			Channel:  cfg.Discord.Channel,
			Log:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: discord: %w", err)
		}
		notifiers = append(notifiers, dn)
	}

	return NewFanout(notifiers...), nil
}

// payloadPreview renders the interrupt payload as a short single-value
// string for chat display.
func payloadPreview(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "(no payload)"
	}
	var buf bytes.Buffer
	s := string(raw)
	if err := json.Compact(&buf, raw); err == nil {
		s = buf.String()
	}
	if len(s) > maxPayloadPreview {
		return s[:maxPayloadPreview] + "..."
	}
	return s
}

// summaryLine is the one-line headline used by both adapters.
func summaryLine(tsk *models.Task) string {
	return fmt.Sprintf("Task %s is waiting for approval (user %s, session %s)",
		tsk.TaskID, tsk.UserID, tsk.SessionID)
}
