package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sniperbot/internal/model"
)

// Embed colors by event.
const (
	colorGreen  = 0x00FF00
	colorRed    = 0xFF0000
	colorYellow = 0xFFFF00
	colorBlue   = 0x00BFFF
	colorGray   = 0x808080
)

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordNotifier posts events as embeds to a Discord webhook.
type DiscordNotifier struct {
	url    string
	client *http.Client
}

// NewDiscordNotifier creates a Discord webhook notifier.
func NewDiscordNotifier(url string) *DiscordNotifier {
	return &DiscordNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *DiscordNotifier) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(discordMessage{Embeds: []discordEmbed{embedFor(ev)}})
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func embedFor(ev Event) discordEmbed {
	e := discordEmbed{
		Title:       ev.Title,
		Description: ev.Message,
		Color:       colorFor(ev),
	}
	if !ev.TS.IsZero() {
		e.Timestamp = ev.TS.UTC().Format(time.RFC3339)
	}
	for _, f := range ev.Fields {
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}
	return e
}

func colorFor(ev Event) int {
	switch ev.Kind {
	case KindSignal:
		if ev.Signal != nil {
			switch ev.Signal.Action {
			case model.ActionBuy:
				return colorGreen
			case model.ActionSell:
				return colorRed
			}
		}
		return colorYellow
	case KindPositionOpened:
		if ev.Position != nil && ev.Position.Side == model.SideShort {
			return colorRed
		}
		return colorGreen
	case KindPositionClosed:
		if ev.Position != nil && ev.Position.PnL < 0 {
			return colorRed
		}
		return colorGreen
	case KindError:
		return colorRed
	case KindStartup:
		return colorBlue
	default:
		return colorGray
	}
}
