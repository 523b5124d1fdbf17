// Package mailer sends transactional email through the Resend HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.resend.com"

// Client is the sending contract used by background jobs.
type Client interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Resend talks to the Resend REST API.
type Resend struct {
	apiKey  string
	from    string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewResend builds a Resend client. An empty baseURL selects the public API.
func NewResend(apiKey, from, baseURL string, logger *slog.Logger) *Resend {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resend{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers one email. A sender-domain verification failure is logged
// and swallowed so a misconfigured mail domain never fails the caller.
func (r *Resend) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(sendRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("mailer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if isDomainVerificationError(payload) {
		r.logger.Warn("mail domain not verified, skipping delivery",
			slog.String("to", to),
			slog.Int("status", resp.StatusCode))
		return nil
	}
	return fmt.Errorf("mailer: send failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
}

func isDomainVerificationError(body []byte) bool {
	text := strings.ToLower(string(body))
	return strings.Contains(text, "verify a domain") || strings.Contains(text, "domain is not verified")
}
