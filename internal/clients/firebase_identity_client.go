package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var _ interfaces.IdentityProvider = (*FirebaseIdentityClient)(nil)

// tokenRefreshSkew - за сколько до истечения ID токен считается устаревшим.
const tokenRefreshSkew = time.Minute

// TokenVerifier проверяет подпись ID токена. *auth.Client удовлетворяет этому интерфейсу.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseIdentityConfig - параметры REST API Firebase Auth.
type FirebaseIdentityConfig struct {
	APIKey             string
	IdentityToolkitURL string
	SecureTokenURL     string
	Scope              string // ключ в кэше учётных данных
	Timeout            time.Duration
}

// FirebaseIdentityClient реализует interfaces.IdentityProvider поверх Identity Toolkit REST API.
type FirebaseIdentityClient struct {
	cfg        FirebaseIdentityConfig
	httpClient *http.Client
	cache      interfaces.CredentialCache
	verifier   TokenVerifier
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	current *models.Identity

	listenersMu sync.Mutex
	listeners   map[int]func(*models.Identity)
	nextID      int
}

// NewFirebaseIdentityClient создает клиента. verifier может быть nil: тогда подпись
// восстановленного токена не проверяется, а claims разбираются без проверки.
func NewFirebaseIdentityClient(cfg FirebaseIdentityConfig, cache interfaces.CredentialCache, verifier TokenVerifier, logger *zap.Logger) *FirebaseIdentityClient {
	cfg.IdentityToolkitURL = strings.TrimSuffix(cfg.IdentityToolkitURL, "/")
	cfg.SecureTokenURL = strings.TrimSuffix(cfg.SecureTokenURL, "/")
	return &FirebaseIdentityClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		verifier:   verifier,
		logger:     logger.Named("FirebaseIdentityClient"),
		now:        time.Now,
		listeners:  make(map[int]func(*models.Identity)),
	}
}

// Resume восстанавливает личность из кэша, при необходимости обновляя ID токен.
func (c *FirebaseIdentityClient) Resume(ctx context.Context) (*models.Identity, error) {
	cached, err := c.cache.Load(ctx, c.cfg.Scope)
	if errors.Is(err, models.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached credentials: %w", err)
	}

	identity := cached
	if identity.Expired(c.now(), tokenRefreshSkew) {
		c.logger.Debug("Cached ID token expired, refreshing", zap.String("uid", cached.UID))
		identity, err = c.refresh(ctx, cached.RefreshToken)
		if err != nil {
			c.forget(ctx)
			return nil, err
		}
	}

	if c.verifier != nil {
		if _, err := c.verifier.VerifyIDToken(ctx, identity.IDToken); err != nil {
			c.logger.Warn("Cached ID token rejected", zap.String("uid", identity.UID), zap.Error(err))
			c.forget(ctx)
			return nil, fmt.Errorf("cached ID token rejected: %w", err)
		}
	}

	identity.Method = models.SignInResumed
	c.signedIn(ctx, identity)
	return identity, nil
}

// SignInAnonymously создаёт анонимного пользователя (accounts:signUp).
func (c *FirebaseIdentityClient) SignInAnonymously(ctx context.Context) (*models.Identity, error) {
	identity, err := c.toolkitSignIn(ctx, "accounts:signUp", map[string]any{"returnSecureToken": true})
	if err != nil {
		return nil, err
	}
	identity.Method = models.SignInAnonymous
	c.signedIn(ctx, identity)
	return identity, nil
}

// ExchangeToken обменивает custom token на ID токен (accounts:signInWithCustomToken).
func (c *FirebaseIdentityClient) ExchangeToken(ctx context.Context, token string) (*models.Identity, error) {
	identity, err := c.toolkitSignIn(ctx, "accounts:signInWithCustomToken", map[string]any{
		"token":             token,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}
	identity.Method = models.SignInCustomToken
	c.signedIn(ctx, identity)
	return identity, nil
}

// SignOut удаляет сохранённые учётные данные и уведомляет подписчиков.
func (c *FirebaseIdentityClient) SignOut(ctx context.Context) error {
	err := c.cache.Delete(ctx, c.cfg.Scope)
	c.setCurrent(nil)
	if err != nil {
		return fmt.Errorf("failed to delete cached credentials: %w", err)
	}
	return nil
}

// OnChange implements interfaces.IdentityProvider.
func (c *FirebaseIdentityClient) OnChange(fn func(identity *models.Identity)) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Current возвращает текущую личность или nil.
func (c *FirebaseIdentityClient) Current() *models.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

type toolkitResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

type secureTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type firebaseErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *FirebaseIdentityClient) toolkitSignIn(ctx context.Context, method string, payload map[string]any) (*models.Identity, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/%s?key=%s", c.cfg.IdentityToolkitURL, method, url.QueryEscape(c.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp toolkitResponse
	if err := c.do(httpReq, method, &resp); err != nil {
		return nil, err
	}
	return c.identityFromTokens(resp.IDToken, resp.RefreshToken, resp.ExpiresIn, resp.LocalID)
}

func (c *FirebaseIdentityClient) refresh(ctx context.Context, refreshToken string) (*models.Identity, error) {
	if refreshToken == "" {
		return nil, errors.New("cached credentials have no refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := fmt.Sprintf("%s/token?key=%s", c.cfg.SecureTokenURL, url.QueryEscape(c.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token refresh request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp secureTokenResponse
	if err := c.do(httpReq, "token refresh", &resp); err != nil {
		return nil, err
	}
	return c.identityFromTokens(resp.IDToken, resp.RefreshToken, resp.ExpiresIn, resp.UserID)
}

func (c *FirebaseIdentityClient) do(httpReq *http.Request, op string, out any) error {
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Identity request failed", zap.String("op", op), zap.Error(err), zap.Duration("duration", time.Since(startTime)))
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp firebaseErrorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		c.logger.Warn("Identity service returned error",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", msg),
		)
		return fmt.Errorf("%s: %d %s", op, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// identityFromTokens собирает Identity. UID и срок действия берутся из claims ID токена,
// если сервис их не вернул явно.
func (c *FirebaseIdentityClient) identityFromTokens(idToken, refreshToken, expiresIn, uid string) (*models.Identity, error) {
	if idToken == "" {
		return nil, errors.New("identity service returned no ID token")
	}

	identity := &models.Identity{UID: uid, IDToken: idToken, RefreshToken: refreshToken}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		c.logger.Debug("ID token is not a parsable JWT", zap.Error(err))
	} else {
		if identity.UID == "" {
			if userID, ok := claims["user_id"].(string); ok {
				identity.UID = userID
			} else if sub, err := claims.GetSubject(); err == nil {
				identity.UID = sub
			}
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			identity.ExpiresAt = exp.Time
		}
	}

	if identity.ExpiresAt.IsZero() && expiresIn != "" {
		if seconds, err := strconv.Atoi(expiresIn); err == nil {
			identity.ExpiresAt = c.now().Add(time.Duration(seconds) * time.Second)
		}
	}

	if identity.UID == "" {
		return nil, errors.New("identity service returned no user id")
	}
	return identity, nil
}

func (c *FirebaseIdentityClient) signedIn(ctx context.Context, identity *models.Identity) {
	if err := c.cache.Save(ctx, c.cfg.Scope, identity); err != nil {
		// Вход состоялся, просто не переживёт перезапуск
		c.logger.Warn("Failed to cache credentials", zap.String("uid", identity.UID), zap.Error(err))
	}
	c.setCurrent(identity)
}

func (c *FirebaseIdentityClient) forget(ctx context.Context) {
	if err := c.cache.Delete(ctx, c.cfg.Scope); err != nil {
		c.logger.Warn("Failed to delete cached credentials", zap.Error(err))
	}
}

func (c *FirebaseIdentityClient) setCurrent(identity *models.Identity) {
	c.mu.Lock()
	prev := c.current
	if identity != nil {
		cp := *identity
		c.current = &cp
	} else {
		c.current = nil
	}
	c.mu.Unlock()

	if prev == nil && identity == nil {
		return
	}

	c.listenersMu.Lock()
	fns := make([]func(*models.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}
