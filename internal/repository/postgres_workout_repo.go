package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/beatmiles/beatmiles/internal/model"
)

const workoutColumns = `id, user_id, date, type, duration, distance, avg_speed, avg_heart_rate, calories, created_at, updated_at`

// PostgresWorkoutRepo はPostgreSQLを使用したワークアウトリポジトリ。
type PostgresWorkoutRepo struct {
	db *sql.DB
}

// NewPostgresWorkoutRepo はPostgresWorkoutRepoを生成する。
func NewPostgresWorkoutRepo(db *sql.DB) *PostgresWorkoutRepo {
	return &PostgresWorkoutRepo{db: db}
}

// ListByUserID はユーザーのワークアウトを date DESC, created_at DESC で返す。
func (r *PostgresWorkoutRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Workout, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workoutColumns+`
		 FROM workouts
		 WHERE user_id = $1
		 ORDER BY date DESC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, wrapStoreError("failed to list workouts", err)
	}
	defer rows.Close()

	workouts := []*model.Workout{}
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, wrapStoreError("failed to scan workout", err)
		}
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("failed to iterate workouts", err)
	}
	return workouts, nil
}

// FindByID は指定IDのワークアウトを取得する。見つからない場合はnilを返す。
func (r *PostgresWorkoutRepo) FindByID(ctx context.Context, id string) (*model.Workout, error) {
	w, err := scanWorkout(r.db.QueryRowContext(ctx,
		`SELECT `+workoutColumns+` FROM workouts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to find workout", err)
	}
	return w, nil
}

// Create はワークアウトを作成する。IDが未設定の場合はUUIDを採番する。
func (r *PostgresWorkoutRepo) Create(ctx context.Context, w *model.Workout) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO workouts (id, user_id, date, type, duration, distance, avg_speed, avg_heart_rate, calories)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		w.ID, w.UserID, w.Date, w.Type, w.Duration,
		nullFloat(w.Distance), nullFloat(w.AvgSpeed), nullFloat(w.AvgHeartRate), nullFloat(w.Calories),
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return wrapStoreError("failed to insert workout", err)
	}
	return nil
}

// Update はワークアウトを上書き更新する。user_idは更新対象に含めない。
func (r *PostgresWorkoutRepo) Update(ctx context.Context, w *model.Workout) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE workouts
		 SET date = $2, type = $3, duration = $4, distance = $5, avg_speed = $6,
		     avg_heart_rate = $7, calories = $8, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		w.ID, w.Date, w.Type, w.Duration,
		nullFloat(w.Distance), nullFloat(w.AvgSpeed), nullFloat(w.AvgHeartRate), nullFloat(w.Calories),
	).Scan(&w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workout not found: %s", w.ID)
	}
	if err != nil {
		return wrapStoreError("failed to update workout", err)
	}
	return nil
}

// Delete は指定IDのワークアウトを削除する。
func (r *PostgresWorkoutRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workouts WHERE id = $1`, id)
	if err != nil {
		return wrapStoreError("failed to delete workout", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("workout not found: %s", id)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkout(s rowScanner) (*model.Workout, error) {
	var (
		w                                           model.Workout
		distance, avgSpeed, avgHeartRate, calories sql.NullFloat64
	)
	err := s.Scan(&w.ID, &w.UserID, &w.Date, &w.Type, &w.Duration,
		&distance, &avgSpeed, &avgHeartRate, &calories, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Distance = floatPtr(distance)
	w.AvgSpeed = floatPtr(avgSpeed)
	w.AvgHeartRate = floatPtr(avgHeartRate)
	w.Calories = floatPtr(calories)
	return &w, nil
}

// compile-time interface check
var _ WorkoutRepository = (*PostgresWorkoutRepo)(nil)
