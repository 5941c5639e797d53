package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beatmiles/beatmiles/internal/model"
)

// DefaultStateTTL はOAuth stateの有効期間。
const DefaultStateTTL = 10 * time.Minute

// ErrInvalidState はOAuth stateの検証失敗を表す。
var ErrInvalidState = errors.New("invalid oauth state")

// stateClaims はOAuth stateとして発行するJWTのクレーム。
type stateClaims struct {
	Provider string `json:"provider"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateSigner はOAuthのstateパラメータをHS256署名付きJWTとして発行・検証する。
// nonceはブラウザのCookieにも保存し、コールバック時に両者の一致を確認する。
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner はStateSignerを生成する。
func NewStateSigner(secret []byte, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{secret: secret, ttl: ttl, now: time.Now}
}

// Issue はproviderに紐づくstateとnonceを発行する。
func (s *StateSigner) Issue(provider model.Provider) (state, nonce string, err error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce = hex.EncodeToString(b)

	now := s.now()
	claims := stateClaims{
		Provider: string(provider),
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return state, nonce, nil
}

// Verify はstateの署名・有効期限・provider・nonceを検証する。
func (s *StateSigner) Verify(state string, provider model.Provider, nonce string) error {
	if state == "" || nonce == "" {
		return ErrInvalidState
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	if claims.Provider != string(provider) {
		return fmt.Errorf("%w: provider mismatch", ErrInvalidState)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(nonce)) != 1 {
		return fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}
	return nil
}
