package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries the context of one detected opportunity.
type Notification struct {
	AccountAddress  string
	DebtAsset       string
	CollateralAsset string
	RepayAmount     *big.Int
	ProfitUSD       decimal.Decimal
	DetectedAt      time.Time
}

// Notifier delivers opportunity notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API. Repeat
// notifications for the same account within the cooldown window are dropped.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	cooldown time.Duration
	client   *http.Client
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout, cooldown time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		cooldown: cooldown,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
		lastSent: make(map[string]time.Time),
	}
}

// Notify sends the rendered opportunity text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if !n.shouldSend(note.AccountAddress) {
		n.logger.Debug().Str("address", note.AccountAddress).Msg("notification suppressed by cooldown")
		return nil
	}

	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.markSent(note.AccountAddress)
	n.logger.Info().
		Str("address", note.AccountAddress).
		Str("profit_usd", note.ProfitUSD.String()).
		Msg("opportunity notification sent")
	return nil
}

func (n *TelegramNotifier) shouldSend(address string) bool {
	if n.cooldown <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[address]
	return !ok || time.Since(last) >= n.cooldown
}

func (n *TelegramNotifier) markSent(address string) {
	if n.cooldown <= 0 {
		return
	}
	n.mu.Lock()
	n.lastSent[address] = time.Now()
	n.mu.Unlock()
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Liquidation Opportunity]\n")
	builder.WriteString(fmt.Sprintf("Account: %s\n", note.AccountAddress))
	builder.WriteString(fmt.Sprintf("Debt asset: %s\n", note.DebtAsset))
	builder.WriteString(fmt.Sprintf("Collateral asset: %s\n", note.CollateralAsset))
	if note.RepayAmount != nil {
		builder.WriteString(fmt.Sprintf("Repay amount: %s\n", note.RepayAmount.String()))
	}
	builder.WriteString(fmt.Sprintf("Est. profit: %s USD\n", note.ProfitUSD.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Detected: %s UTC\n", note.DetectedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
