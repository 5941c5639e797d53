package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/beatmiles/beatmiles/internal/model"
)

const userColumns = `id, email, password_hash, google_id, facebook_id, github_id, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// providerColumn はIdPに対応するカラム名を返す。
// カラム名をSQLに埋め込むため、固定のswitchで許可した値のみを返す。
func providerColumn(p model.Provider) (string, error) {
	switch p {
	case model.ProviderGoogle:
		return "google_id", nil
	case model.ProviderFacebook:
		return "facebook_id", nil
	case model.ProviderGitHub:
		return "github_id", nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", p)
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "find user by ID",
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.findOne(ctx, "find user by email",
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByProviderID は外部IdPのIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderID(ctx context.Context, provider model.Provider, externalID string) (*model.User, error) {
	col, err := providerColumn(provider)
	if err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, nil
	}
	return r.findOne(ctx, "find user by "+col,
		`SELECT `+userColumns+` FROM users WHERE `+col+` = $1`, externalID)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, op, query string, arg string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to "+op, err)
	}
	return user, nil
}

// Create はユーザーを作成する。IDが未設定の場合はUUIDを採番する。
// created_at/updated_atはDB側で設定した値を書き戻す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, password_hash, google_id, facebook_id, github_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		user.ID,
		nullString(user.Email),
		nullString(user.PasswordHash),
		nullString(user.GoogleID),
		nullString(user.FacebookID),
		nullString(user.GitHubID),
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return wrapStoreError("failed to insert user", err)
	}
	return nil
}

// Save は既存ユーザーの可変カラムとupdated_atを更新する。
func (r *PostgresUserRepo) Save(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET email = $2, password_hash = $3, google_id = $4, facebook_id = $5, github_id = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		user.ID,
		nullString(user.Email),
		nullString(user.PasswordHash),
		nullString(user.GoogleID),
		nullString(user.FacebookID),
		nullString(user.GitHubID),
	).Scan(&user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	if err != nil {
		return wrapStoreError("failed to update user", err)
	}
	return nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user                                        model.User
		email, hash, googleID, facebookID, githubID sql.NullString
	)
	err := row.Scan(&user.ID, &email, &hash, &googleID, &facebookID, &githubID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Email = email.String
	user.PasswordHash = hash.String
	user.GoogleID = googleID.String
	user.FacebookID = facebookID.String
	user.GitHubID = githubID.String
	return &user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
