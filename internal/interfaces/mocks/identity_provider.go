package mocks

import (
	"context"
	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"github.com/stretchr/testify/mock"
)

var (
	_ interfaces.IdentityProvider = (*IdentityProvider)(nil)
	_ interfaces.CredentialCache  = (*CredentialCache)(nil)
)

// Mock IdentityProvider
type IdentityProvider struct {
	mock.Mock
}

func (m *IdentityProvider) Resume(ctx context.Context) (*models.Identity, error) {
	args := m.Called(ctx)
	id, _ := args.Get(0).(*models.Identity)
	return id, args.Error(1)
}

func (m *IdentityProvider) SignInAnonymously(ctx context.Context) (*models.Identity, error) {
	args := m.Called(ctx)
	id, _ := args.Get(0).(*models.Identity)
	return id, args.Error(1)
}

func (m *IdentityProvider) ExchangeToken(ctx context.Context, token string) (*models.Identity, error) {
	args := m.Called(ctx, token)
	id, _ := args.Get(0).(*models.Identity)
	return id, args.Error(1)
}

func (m *IdentityProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// OnChange возвращает no-op отписку, если в Return ничего не передано.
func (m *IdentityProvider) OnChange(fn func(identity *models.Identity)) func() {
	args := m.Called(fn)
	if len(args) > 0 {
		if unsubscribe, ok := args.Get(0).(func()); ok {
			return unsubscribe
		}
	}
	return func() {}
}

// Mock CredentialCache
type CredentialCache struct {
	mock.Mock
}

func (m *CredentialCache) Load(ctx context.Context, scope string) (*models.Identity, error) {
	args := m.Called(ctx, scope)
	id, _ := args.Get(0).(*models.Identity)
	return id, args.Error(1)
}

func (m *CredentialCache) Save(ctx context.Context, scope string, identity *models.Identity) error {
	args := m.Called(ctx, scope, identity)
	return args.Error(0)
}

func (m *CredentialCache) Delete(ctx context.Context, scope string) error {
	args := m.Called(ctx, scope)
	return args.Error(0)
}
