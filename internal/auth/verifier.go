package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/beatmiles/beatmiles/internal/model"
	"github.com/beatmiles/beatmiles/internal/repository"
)

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CredentialVerifier はメールアドレスとパスワードによるローカル認証を行う。
type CredentialVerifier struct {
	users  repository.UserRepository
	hasher *PasswordHasher
}

// NewCredentialVerifier はCredentialVerifierを生成する。
func NewCredentialVerifier(users repository.UserRepository, hasher *PasswordHasher) *CredentialVerifier {
	return &CredentialVerifier{users: users, hasher: hasher}
}

// Verify は資格情報を検証し、一致したユーザーを返す。
// 失敗理由は model.ErrUserNotFound / ErrNoPasswordSet / ErrInvalidCredentials のいずれか。
// ユーザー不在・パスワード未設定の場合もダミーハッシュと照合し、応答時間を揃える。
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*model.User, error) {
	user, err := v.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		v.hasher.CompareDummy(password)
		return nil, model.ErrUserNotFound
	}
	if !user.HasPassword() {
		v.hasher.CompareDummy(password)
		return nil, model.ErrNoPasswordSet
	}

	ok, err := v.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrInvalidCredentials
	}
	return user, nil
}
