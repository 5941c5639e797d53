package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/beatmiles/beatmiles/internal/metrics"
	"github.com/beatmiles/beatmiles/internal/model"
	"github.com/beatmiles/beatmiles/internal/repository"
)

// ExternalProfile はOAuthプロバイダーから取得したユーザー情報を表す。
// Email はプロバイダーが返さない場合は空文字列。
type ExternalProfile struct {
	Provider   model.Provider
	ExternalID string
	Email      string
	Name       string
}

// IdentityResolver は外部IdPのプロフィールをローカルユーザーに解決する。
// 初回は新規作成し、以降は同じユーザーを返す。異なるIdP間のアカウント連携は行わない。
type IdentityResolver struct {
	users   repository.UserRepository
	metrics metrics.MetricsCollector
}

// NewIdentityResolver はIdentityResolverを生成する。
func NewIdentityResolver(users repository.UserRepository, m metrics.MetricsCollector) *IdentityResolver {
	if m == nil {
		m = metrics.Nop{}
	}
	return &IdentityResolver{users: users, metrics: m}
}

// Resolve はプロフィールに対応するユーザーを返す。存在しなければ作成する。
// 既存ユーザーのプロフィール情報は更新しない。
func (r *IdentityResolver) Resolve(ctx context.Context, profile ExternalProfile) (*model.User, error) {
	if _, err := model.ParseProvider(string(profile.Provider)); err != nil {
		return nil, err
	}
	if profile.ExternalID == "" {
		return nil, fmt.Errorf("empty external id from %s", profile.Provider)
	}

	existing, err := r.users.FindByProviderID(ctx, profile.Provider, profile.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider id: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	user := &model.User{Email: NormalizeEmail(profile.Email)}
	if err := user.SetProviderID(profile.Provider, profile.ExternalID); err != nil {
		return nil, err
	}

	err = r.users.Create(ctx, user)
	if errors.Is(err, model.ErrConflict) {
		// 同時コールバックに敗れたか、emailが別アカウントで使用済み。再検索は1回だけ行う。
		winner, findErr := r.users.FindByProviderID(ctx, profile.Provider, profile.ExternalID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to re-resolve user after conflict: %w", findErr)
		}
		if winner != nil {
			return winner, nil
		}
		return nil, fmt.Errorf("failed to create %s user: %w", profile.Provider, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s user: %w", profile.Provider, err)
	}

	r.metrics.RecordUserCreated(string(profile.Provider))
	slog.Info("oauth user created",
		slog.String("user_id", user.ID),
		slog.String("provider", string(profile.Provider)),
	)
	return user, nil
}
