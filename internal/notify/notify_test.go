package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/relay/internal/config"
	"github.com/zulandar/relay/internal/models"
)

func interruptedTask() *models.Task {
	return &models.Task{
		TaskID:           "t1",
		SessionID:        "s1",
		UserID:           "u1",
		State:            models.TaskInterrupted,
		InterruptPayload: json.RawMessage(`{"tool": "delete_file", "args": {"path": "/etc"}}`),
	}
}

// mockSlackClient records PostMessage calls.
type mockSlackClient struct {
	mu       sync.Mutex
	calls    []string // channel IDs
	err      error
	errTimes int // fail this many calls before succeeding
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, channelID)
	if m.err != nil && (m.errTimes == 0 || len(m.calls) <= m.errTimes) {
		return "", "", m.err
	}
	return channelID, "1700000000.000100", nil
}

func TestSlack_PostsToChannel(t *testing.T) {
	client := &mockSlackClient{}
	s, err := NewSlack(SlackOpts{Channel: "C123", Client: client})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}

	s.TaskInterrupted(context.Background(), interruptedTask())

	if len(client.calls) != 1 || client.calls[0] != "C123" {
		t.Errorf("calls = %v, want one post to C123", client.calls)
	}
}

func TestSlack_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{
		err:      &slackapi.RateLimitedError{RetryAfter: 0},
		errTimes: 2,
	}
	s, err := NewSlack(SlackOpts{Channel: "C123", Client: client})
	if err != nil {
		t.Fatal(err)
	}

	s.TaskInterrupted(context.Background(), interruptedTask())

	if len(client.calls) != 3 {
		t.Errorf("calls = %d, want 3 (two rate-limited, one success)", len(client.calls))
	}
}

func TestSlack_DropsOnHardError(t *testing.T) {
	client := &mockSlackClient{err: errors.New("channel_not_found")}
	s, err := NewSlack(SlackOpts{Channel: "C123", Client: client})
	if err != nil {
		t.Fatal(err)
	}

	// Must not panic or retry a non-rate-limit error.
	s.TaskInterrupted(context.Background(), interruptedTask())

	if len(client.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(client.calls))
	}
}

func TestNewSlack_RequiresToken(t *testing.T) {
	if _, err := NewSlack(SlackOpts{Channel: "C123"}); err == nil {
		t.Error("expected error without token or injected client")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb-x"}); err == nil {
		t.Error("expected error without channel")
	}
}

// mockDiscordSession records embed sends.
type mockDiscordSession struct {
	mu     sync.Mutex
	embeds []*discordgo.MessageEmbed
	chans  []string
	err    error
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chans = append(m.chans, channelID)
	m.embeds = append(m.embeds, embed)
	if m.err != nil {
		return nil, m.err
	}
	return &discordgo.Message{ID: "m1"}, nil
}

func TestDiscord_SendsEmbed(t *testing.T) {
	sess := &mockDiscordSession{}
	d, err := NewDiscord(DiscordOpts{Channel: "987", Session: sess})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}

	d.TaskInterrupted(context.Background(), interruptedTask())

	if len(sess.embeds) != 1 || sess.chans[0] != "987" {
		t.Fatalf("sends = %v", sess.chans)
	}
	embed := sess.embeds[0]
	if !strings.Contains(embed.Description, "t1") {
		t.Errorf("description missing task id: %q", embed.Description)
	}
	var payloadField string
	for _, f := range embed.Fields {
		if f.Name == "Payload" {
			payloadField = f.Value
		}
	}
	if !strings.Contains(payloadField, "delete_file") {
		t.Errorf("payload field missing interrupt detail: %q", payloadField)
	}
}

func TestDiscord_DropsOnError(t *testing.T) {
	sess := &mockDiscordSession{err: errors.New("missing access")}
	d, err := NewDiscord(DiscordOpts{Channel: "987", Session: sess})
	if err != nil {
		t.Fatal(err)
	}

	d.TaskInterrupted(context.Background(), interruptedTask())

	if len(sess.chans) != 1 {
		t.Errorf("sends = %d, want 1", len(sess.chans))
	}
}

func TestFanout_DeliversToAll(t *testing.T) {
	slackMock := &mockSlackClient{}
	discordMock := &mockDiscordSession{}
	s, _ := NewSlack(SlackOpts{Channel: "C123", Client: slackMock})
	d, _ := NewDiscord(DiscordOpts{Channel: "987", Session: discordMock})

	f := NewFanout(s, nil, d)
	f.TaskInterrupted(context.Background(), interruptedTask())

	if len(slackMock.calls) != 1 {
		t.Errorf("slack calls = %d", len(slackMock.calls))
	}
	if len(discordMock.chans) != 1 {
		t.Errorf("discord sends = %d", len(discordMock.chans))
	}
}

func TestFromConfig_EmptyConfig(t *testing.T) {
	f, err := FromConfig(config.NotifyConfig{}, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	// Delivering nowhere must still be safe.
	f.TaskInterrupted(context.Background(), interruptedTask())
}

func TestPayloadPreview(t *testing.T) {
	if got := payloadPreview(nil); got != "(no payload)" {
		t.Errorf("empty payload preview = %q", got)
	}
	long := json.RawMessage(fmt.Sprintf(`"%s"`, strings.Repeat("x", 2*maxPayloadPreview)))
	if got := payloadPreview(long); len(got) != maxPayloadPreview+3 {
		t.Errorf("long payload not truncated, len = %d", len(got))
	}
}
