// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// MigrationResult はマイグレーション適用前後のスキーマバージョンを表す。
// 未適用のデータベースはバージョン0として扱う。
type MigrationResult struct {
	From uint
	To   uint
}

// Applied はこの実行で新しいマイグレーションが適用されたかを返す。
func (r MigrationResult) Applied() bool {
	return r.From != r.To
}

// versioner は現在のスキーマバージョンを返す。*migrate.Migrate が満たす。
type versioner interface {
	Version() (version uint, dirty bool, err error)
}

// currentVersion は現在のスキーマバージョンを返す。
// 途中で失敗したマイグレーションが残っている（dirty）場合はエラーとする。
func currentVersion(v versioner) (uint, error) {
	version, dirty, err := v.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty: fix the failed migration and force the version before retrying", version)
	}
	return version, nil
}

// RunMigrations はすべてのマイグレーションを適用し、適用前後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, err := currentVersion(m)
	if err != nil {
		return MigrationResult{From: from, To: from}, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: from, To: from}, fmt.Errorf("failed to run migrations from version %d: %w", from, err)
	}

	to, err := currentVersion(m)
	if err != nil {
		return MigrationResult{From: from, To: to}, err
	}

	return MigrationResult{From: from, To: to}, nil
}
