package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"go.uber.org/zap"
)

var _ interfaces.GenerationClient = (*StubGenerationClient)(nil)

// StubGenerationClient - заглушка для локальной работы без сервиса генерации.
type StubGenerationClient struct {
	delay  time.Duration
	logger *zap.Logger
}

func NewStubGenerationClient(delay time.Duration, logger *zap.Logger) *StubGenerationClient {
	return &StubGenerationClient{delay: delay, logger: logger.Named("stub_generation_client")}
}

func (s *StubGenerationClient) Generate(ctx context.Context, req interfaces.GenerationRequest) (string, error) {
	s.logger.Info("ЗАГЛУШКА: генерация истории",
		zap.String("user_id", req.Owner),
		zap.String("keywords", req.Keywords),
		zap.Duration("delay", s.delay),
	)

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, ctx.Err())
		}
	}

	var parts []string
	for _, kw := range strings.Split(req.Keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			parts = append(parts, kw)
		}
	}
	return fmt.Sprintf("Once upon a time there was a story about %s. The end.", strings.Join(parts, ", ")), nil
}
