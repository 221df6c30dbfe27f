// Package telegram sends signals and lifecycle events through the Telegram
// Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/notifier"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram implements the Notifier interface for the Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token, ok := cfg.Params["bot_token"].(string); ok {
		t.botToken = token
	}
	if chatID, ok := cfg.Params["chat_id"].(string); ok {
		t.chatID = chatID
	}
	if base, ok := cfg.Params["api_base"].(string); ok && base != "" {
		t.apiBase = base
	}
	if t.apiBase == "" {
		t.apiBase = defaultAPIBase
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 30 * time.Second}
	}

	if t.botToken == "" {
		return core.Errorf(core.ErrConfigMissing, "telegram: bot_token is required")
	}
	if t.chatID == "" {
		return core.Errorf(core.ErrConfigMissing, "telegram: chat_id is required")
	}

	return nil
}

func (t *Telegram) Send(ctx context.Context, signal core.Signal) error {
	return t.sendMessage(ctx, t.formatSignal(signal))
}

func (t *Telegram) SendBatch(ctx context.Context, signals []core.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *%d Trading Signals*\n\n", len(signals))

	for i, signal := range signals {
		sb.WriteString(t.formatSignal(signal))
		if i < len(signals)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(ctx, sb.String())
}

func (t *Telegram) SendEvent(ctx context.Context, event core.Event) error {
	return t.sendMessage(ctx, t.formatEvent(event))
}

func (t *Telegram) formatSignal(signal core.Signal) string {
	var sb strings.Builder

	emoji := "📈"
	switch {
	case signal.Kind == core.SignalExit:
		emoji = "🏁"
	case signal.Action == core.ActionSell:
		emoji = "📉"
	}

	fmt.Fprintf(&sb, "%s *%s* - %s %s\n", emoji, signal.Symbol, signal.Kind, signal.Action)
	fmt.Fprintf(&sb, "📊 Strength: %.1f%%\n", signal.Strength*100)

	if signal.Strategy != "" {
		fmt.Fprintf(&sb, "🎯 Strategy: %s\n", signal.Strategy)
	}
	if signal.Reason != "" {
		fmt.Fprintf(&sb, "💡 Reason: %s\n", signal.Reason)
	}
	if signal.Price.IsPositive() {
		fmt.Fprintf(&sb, "💰 Price: %s\n", signal.Price.String())
	}
	if signal.Quantity.IsPositive() {
		fmt.Fprintf(&sb, "📦 Quantity: %s\n", signal.Quantity.String())
	}

	fmt.Fprintf(&sb, "⏰ Time: %s", signal.GeneratedAt.Format("2006-01-02 15:04:05"))

	return sb.String()
}

func (t *Telegram) formatEvent(event core.Event) string {
	if event.Type == core.EventAlert {
		msg, _ := event.Data["message"].(string)
		return fmt.Sprintf("🚨 %s\n⏰ Time: %s", msg, event.Timestamp.Format("2006-01-02 15:04:05"))
	}
	state := "stopped"
	if event.Running {
		state = "running"
	}
	name := event.Name
	if name == "" {
		name = event.StrategyID
	}
	return fmt.Sprintf("⚙️ *%s* %s (%s)\n🆔 %s\n⏰ Time: %s",
		name, event.Type, state, event.StrategyID, event.Timestamp.Format("2006-01-02 15:04:05"))
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
