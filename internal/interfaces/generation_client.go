package interfaces

import "context"

// GenerationRequest - параметры запроса к сервису генерации.
type GenerationRequest struct {
	Keywords string `json:"keywords"`
	Owner    string `json:"userId"`
	ScopeID  string `json:"appId"`
}

// GenerationClient генерирует текст истории по ключевым словам.
//
//go:generate mockery --name GenerationClient --output ./mocks --outpkg mocks --case=underscore
type GenerationClient interface {
	// Generate возвращает текст истории или ошибку (транспорт, не-2xx статус, битый ответ).
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
