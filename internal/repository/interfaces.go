// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/beatmiles/beatmiles/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース（Identity Store）。
// 検索系メソッドは該当がない場合 nil, nil を返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProviderID は外部IdPのIDでユーザーを検索する。
	// 未知のproviderはSQLを発行せずにエラーを返す。
	FindByProviderID(ctx context.Context, provider model.Provider, externalID string) (*model.User, error)

	// Create はユーザーを作成する。
	// 一意制約違反（email、各IdPのID）は model.ErrConflict を返す。
	Create(ctx context.Context, user *model.User) error

	// Save は既存ユーザーの可変カラムを更新する。一意制約違反は model.ErrConflict を返す。
	Save(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// WorkoutRepository はワークアウトデータの永続化インターフェース。
type WorkoutRepository interface {
	// ListByUserID はユーザーのワークアウトを日付の新しい順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Workout, error)
	// FindByID は指定IDのワークアウトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Workout, error)
	// Create はワークアウトを作成する。
	Create(ctx context.Context, workout *model.Workout) error
	// Update はワークアウトの全フィールドを上書きする。所有者は変更しない。
	Update(ctx context.Context, workout *model.Workout) error
	// Delete は指定IDのワークアウトを削除する。
	Delete(ctx context.Context, id string) error
}
