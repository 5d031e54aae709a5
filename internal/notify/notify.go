// Package notify delivers one-time codes to users through the email service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/homenavi/auth-service/internal/logging"
	"github.com/homenavi/auth-service/internal/model"
	"go.uber.org/zap"
)

// Message is a code addressed to one user
type Message struct {
	To      string
	Name    string
	Purpose model.CodePurpose
	Code    string
}

// Sender delivers a Message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSender posts codes to the email service
type HTTPSender struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSender creates a sender for the email service at baseURL. Every call is bounded by timeout.
func NewHTTPSender(baseURL string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func endpoint(p model.CodePurpose) string {
	switch p {
	case model.PurposeEmailVerify:
		return "/send/verification"
	case model.PurposePasswordReset:
		return "/send/password-reset"
	default:
		return "/send/2fa"
	}
}

// Send posts the message and fails on any non-2xx answer
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]string{"to": msg.To, "code": msg.Code}
	if msg.Purpose == model.PurposeEmailVerify {
		payload["user_name"] = msg.Name
	} else {
		payload["name"] = msg.Name
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint(msg.Purpose), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("email service returned %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes codes to the log. Only wired in dev mode.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("one-time code (dev delivery)",
		zap.String("to", logging.MaskEmail(msg.To)),
		zap.String("purpose", string(msg.Purpose)),
		zap.String("code", msg.Code),
	)
	return nil
}
