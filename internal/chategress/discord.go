package chategress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// discordAPIBase is the Discord REST API root the bot client posts to.
// A var rather than a const, mirroring feed.Config's configurable BaseURL,
// so tests can point it at a local httptest server.
var discordAPIBase = "https://discord.com/api/v10"

// discordMessagePayload mirrors Discord's "create message" body, grounded
// on the teacher's DiscordWebhookPayload shape — the embed object is
// identical between a webhook execute and a bot-token channel post, only
// the top-level envelope differs (no username override for bot messages).
type discordMessagePayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Thumbnail   *discordThumbnail   `json:"thumbnail,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordThumbnail struct {
	URL string `json:"url,omitempty"`
}

// DiscordEgress posts Payloads directly to Discord channel IDs using a
// single bot token, satisfying spec §4.H's abstract post(channel_id,
// payload) contract across every tenant without each tenant managing its
// own webhook secret — tenant config only ever stores the channel_id the
// bot must already have been invited into (spec §4.F's channel grammar).
type DiscordEgress struct {
	BotToken string
	Client   *http.Client
}

// NewDiscordEgress constructs a DiscordEgress with a default HTTP timeout
// matching the teacher's 30s Discord client timeout.
func NewDiscordEgress(botToken string) *DiscordEgress {
	return &DiscordEgress{
		BotToken: botToken,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Post sends payload to channelID, retrying TransientError up to 3x with
// exponential backoff and jitter per spec §4.H.
func (d *DiscordEgress) Post(channelID string, payload Payload) (Ack, error) {
	body, err := json.Marshal(buildBody(payload))
	if err != nil {
		return Ack{}, &PermanentError{Err: fmt.Errorf("marshal payload: %w", err)}
	}
	url := fmt.Sprintf("%s/channels/%s/messages", discordAPIBase, channelID)

	const maxAttempts = 3
	const base = time.Second
	const maxBackoff = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := d.send(url, body)
		if err == nil {
			return Ack{ChannelID: channelID}, nil
		}
		lastErr = err
		var perm *PermanentError
		if asPermanent(err, &perm) {
			return Ack{}, perm
		}
		if attempt == maxAttempts-1 {
			break
		}
		backoff := time.Duration(math.Min(float64(maxBackoff), float64(base)*math.Pow(2, float64(attempt))))
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		time.Sleep(backoff/2 + jitter)
	}
	return Ack{}, lastErr
}

func asPermanent(err error, target **PermanentError) bool {
	if pe, ok := err.(*PermanentError); ok {
		*target = pe
		return true
	}
	return false
}

func buildBody(p Payload) discordMessagePayload {
	fields := make([]discordEmbedField, 0, len(p.Fields))
	for _, f := range p.Fields {
		fields = append(fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	var thumb *discordThumbnail
	if p.ThumbnailURL != "" {
		thumb = &discordThumbnail{URL: p.ThumbnailURL}
	}
	return discordMessagePayload{
		Content: strings.Join(p.Mentions, " "),
		Embeds: []discordEmbed{{
			Title:       p.Title,
			Description: p.Description,
			Color:       p.Color,
			Fields:      fields,
			Thumbnail:   thumb,
			Timestamp:   p.Timestamp,
		}},
	}
}

func (d *DiscordEgress) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+d.BotToken)

	resp, err := d.Client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("discord channel post returned status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Err: fmt.Errorf("discord channel post returned status %d", resp.StatusCode)}
	default:
		return &TransientError{Err: fmt.Errorf("discord channel post returned status %d", resp.StatusCode)}
	}
}

// PostAdminWebhook sends a plain-content alert to the operator's own
// admin webhook (spec §7: "StoreFailure ... alert sent to admin webhook if
// configured"), distinct from any tenant's channel_id — this is the one
// place a raw webhook URL is still accepted, hence tenant.ValidateWebhook
// stays exported for main.go to check it at startup.
func PostAdminWebhook(client *http.Client, webhookURL, message string) error {
	if webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("admin webhook returned status %d", resp.StatusCode)
	}
	return nil
}
