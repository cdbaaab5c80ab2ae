package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.GenerationClient = (*HTTPGenerationClient)(nil)

// maxErrorBody ограничивает объём тела ошибки, попадающего в сообщение.
const maxErrorBody = 4 << 10

// HTTPGenerationClient вызывает облачную функцию генерации истории.
type HTTPGenerationClient struct {
	endpointURL string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewHTTPGenerationClient creates a new HTTP client for the story generation function.
func NewHTTPGenerationClient(endpointURL string, timeout time.Duration, logger *zap.Logger) *HTTPGenerationClient {
	return &HTTPGenerationClient{
		endpointURL: strings.TrimSuffix(endpointURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("HTTPGenerationClient"),
	}
}

// Generate implements interfaces.GenerationClient.
// Ответ с не-2xx статусом возвращается как *models.RemoteError со статусом и телом ответа.
func (c *HTTPGenerationClient) Generate(ctx context.Context, req interfaces.GenerationRequest) (string, error) {
	requestID := uuid.NewString()
	log := c.logger.With(zap.String("request_id", requestID), zap.String("user_id", req.Owner))
	log.Debug("Requesting story generation", zap.Int("keywords_len", len(req.Keywords)))

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("Generation request failed", zap.Error(err), zap.Duration("duration", time.Since(startTime)))
		return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		remoteErr := &models.RemoteError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(body)),
		}
		log.Error("Generation function returned non-2xx status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", remoteErr.Body),
		)
		return "", remoteErr
	}

	var payload struct {
		Story *string `json:"story"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Error("Failed to decode generation response", zap.Error(err))
		return "", fmt.Errorf("%w: malformed response: %w", models.ErrGenerationFailed, err)
	}
	if payload.Story == nil || strings.TrimSpace(*payload.Story) == "" {
		log.Error("Generation response has no story")
		return "", fmt.Errorf("%w: response has no story", models.ErrGenerationFailed)
	}

	log.Debug("Story generated", zap.Int("story_len", len(*payload.Story)), zap.Duration("duration", time.Since(startTime)))
	return *payload.Story, nil
}
