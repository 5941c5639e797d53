package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// CookieSigner はセッションIDにHMAC-SHA256署名を付与・検証する。
// Cookie値の形式は "<id>.<base64url(mac)>"。
type CookieSigner struct {
	secret []byte
}

// NewCookieSigner はCookieSignerを生成する。
func NewCookieSigner(secret []byte) *CookieSigner {
	return &CookieSigner{secret: secret}
}

// Sign はセッションIDに署名したCookie値を返す。
func (c *CookieSigner) Sign(sessionID string) string {
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(c.mac(sessionID))
}

// Verify はCookie値の署名を検証し、セッションIDを返す。
func (c *CookieSigner) Verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" || sig == "" {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(got, c.mac(id)) {
		return "", false
	}
	return id, true
}

func (c *CookieSigner) mac(sessionID string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(sessionID))
	return h.Sum(nil)
}
