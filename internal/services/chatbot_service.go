package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ChatbotService delivers messages through a bot-platform HTTP API.
// The API base URL and bot token come from configuration; the chat id is
// per-user, carried on the step-up policy.
type ChatbotService struct {
	apiBaseURL string
	botToken   string
	client     *http.Client
	logger     *slog.Logger
}

// NewChatbotService creates a new ChatbotService
func NewChatbotService(apiBaseURL, botToken string, logger *slog.Logger) *ChatbotService {
	return &ChatbotService{
		apiBaseURL: apiBaseURL,
		botToken:   botToken,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts a message to a chat. The code itself is never logged.
func (s *ChatbotService) SendMessage(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBaseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chatbot API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read chatbot response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("chatbot API returned non-200",
			slog.Int("status", resp.StatusCode),
			slog.String("chat_id", chatID))
		return fmt.Errorf("chatbot API returned status %d", resp.StatusCode)
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("failed to decode chatbot response: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("chatbot API rejected message: %s", parsed.Description)
	}

	s.logger.Info("chatbot message sent", slog.String("chat_id", chatID))
	return nil
}
