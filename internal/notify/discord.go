package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/relay/internal/models"
)

// interruptEmbedColor is the sidebar color for interrupt embeds (amber).
const interruptEmbedColor = 0xE8A33D

// discordSession abstracts the discordgo.Session methods we use, enabling
// test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts interrupt notifications to a Discord channel.
type Discord struct {
	sess    discordSession
	channel string
	log     *slog.Logger
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken string // Discord bot token
	Channel  string // channel ID to post to
	Log      *slog.Logger
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord notifier. Notifications go over the REST
// API; no gateway connection is opened.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	d := &Discord{sess: opts.Session, channel: opts.Channel, log: log}
	if d.sess == nil {
		sess, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		d.sess = sess
	}
	return d, nil
}

// TaskInterrupted implements dispatch.Notifier. Failed posts are logged
// and dropped.
func (d *Discord) TaskInterrupted(ctx context.Context, tsk *models.Task) {
	embed := &discordgo.MessageEmbed{
		Title:       "Agent task interrupted",
		Description: summaryLine(tsk),
		Color:       interruptEmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: tsk.UserID, Inline: true},
			{Name: "Session", Value: tsk.SessionID, Inline: true},
			{Name: "Task", Value: tsk.TaskID, Inline: true},
			{Name: "Payload", Value: fmt.Sprintf("```json\n%s\n```", payloadPreview(tsk.InterruptPayload))},
		},
	}

	if _, err := d.sess.ChannelMessageSendEmbed(d.channel, embed, discordgo.WithContext(ctx)); err != nil {
		d.log.Error("discord interrupt notification failed",
			"task_id", tsk.TaskID, "channel", d.channel, "error", err)
		return
	}
	d.log.Debug("discord interrupt notification sent", "task_id", tsk.TaskID, "channel", d.channel)
}
