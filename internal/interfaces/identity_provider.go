package interfaces

import (
	"context"

	"storyteller/internal/models"
)

// IdentityProvider - внешний провайдер личности.
//
//go:generate mockery --name IdentityProvider --output ./mocks --outpkg mocks --case=underscore
type IdentityProvider interface {
	// Resume возвращает ранее установленную личность или (nil, nil), если её нет.
	Resume(ctx context.Context) (*models.Identity, error)
	// SignInAnonymously создаёт новую анонимную личность.
	SignInAnonymously(ctx context.Context) (*models.Identity, error)
	// ExchangeToken обменивает заранее выданный токен на личность.
	ExchangeToken(ctx context.Context, token string) (*models.Identity, error)
	// SignOut завершает текущую сессию у провайдера.
	SignOut(ctx context.Context) error
	// OnChange регистрирует обработчик переходов signed-in/signed-out (nil = signed-out).
	OnChange(fn func(identity *models.Identity)) (unsubscribe func())
}

// CredentialCache хранит учётные данные между запусками клиента.
//
//go:generate mockery --name CredentialCache --output ./mocks --outpkg mocks --case=underscore
type CredentialCache interface {
	// Load возвращает models.ErrNoSession, если для scope ничего не сохранено.
	Load(ctx context.Context, scope string) (*models.Identity, error)
	Save(ctx context.Context, scope string, identity *models.Identity) error
	Delete(ctx context.Context, scope string) error
}
