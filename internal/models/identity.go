package models

import "time"

// SignInMethod - способ, которым была установлена личность в текущей сессии.
type SignInMethod string

const (
	SignInResumed     SignInMethod = "resume"
	SignInCustomToken SignInMethod = "custom_token"
	SignInAnonymous   SignInMethod = "anonymous"
)

// Identity - результат входа у провайдера личности.
type Identity struct {
	UID          string       `json:"uid"`
	IDToken      string       `json:"id_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Method       SignInMethod `json:"method"`
}

// Expired сообщает, что ID токен истёк (с запасом skew).
func (i *Identity) Expired(now time.Time, skew time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(i.ExpiresAt)
}
