/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
)

// Client delivers sync digests to the configured operator chats. Telegram is
// a notification channel only; it never feeds records back into a pass.
type Client struct {
    token   string
    chatIDs []int64
    http    *http.Client
    log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{token: cfg.TelegramToken, chatIDs: cfg.TelegramChatIDs, http: &http.Client{Timeout: 10 * time.Second}, log: log}
}

// Notify sends text to every configured chat. Delivery failures are logged
// and swallowed; a lost digest never fails a pass.
func (c *Client) Notify(ctx context.Context, text string) {
    if c.token == "" || len(c.chatIDs) == 0 || text == "" { return }
    for _, chat := range c.chatIDs {
        for _, part := range chunkText(text, 3800) {
            if err := c.sendMessage(ctx, chat, part); err != nil {
                c.log.Error().Err(err).Int64("chat", chat).Msg("telegram send failed")
            }
        }
    }
}

func (c *Client) sendMessage(ctx context.Context, chatID int64, text string) error {
    if c.token == "" || chatID == 0 { return fmt.Errorf("telegram: missing token or chat id") }
    url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)
    body := map[string]any{"chat_id": chatID, "text": text, "disable_web_page_preview": true}
    b, _ := json.Marshal(body)
    req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        bodyBytes, _ := io.ReadAll(resp.Body)
        return fmt.Errorf("telegram sendMessage status=%d body=%s", resp.StatusCode, string(bodyBytes))
    }
    return nil
}

// chunkText splits on line boundaries under Telegram's message size cap.
func chunkText(s string, max int) []string {
    if len(s) <= max { return []string{s} }
    var parts []string
    for len(s) > max {
        cut := max
        for i := max; i > max/2; i-- {
            if s[i-1] == '\n' { cut = i; break }
        }
        parts = append(parts, s[:cut])
        s = s[cut:]
    }
    if len(s) > 0 { parts = append(parts, s) }
    return parts
}
