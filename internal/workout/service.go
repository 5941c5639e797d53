// Package workout はワークアウト記録のCRUDを提供する。
// 全ての操作はセッションで解決済みの主体を受け取り、読み取り・変更の前に所有者を確認する。
package workout

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/beatmiles/beatmiles/internal/access"
	"github.com/beatmiles/beatmiles/internal/metrics"
	"github.com/beatmiles/beatmiles/internal/model"
	"github.com/beatmiles/beatmiles/internal/repository"
	"github.com/beatmiles/beatmiles/internal/security"
)

// MaxTypeLength はワークアウト種別の最大文字数（サニタイズ後）。
const MaxTypeLength = 100

// Service はワークアウトに関するビジネスロジックを提供する。
type Service struct {
	repo      repository.WorkoutRepository
	sanitizer security.TextSanitizerService
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。mがnilの場合はメトリクスを記録しない。
func NewService(repo repository.WorkoutRepository, sanitizer security.TextSanitizerService, m metrics.MetricsCollector) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{repo: repo, sanitizer: sanitizer, metrics: m}
}

// List は主体が所有するワークアウトを日付の新しい順で返す。
func (s *Service) List(ctx context.Context, principal *model.Principal) ([]*model.Workout, error) {
	if principal.UserID() == "" {
		return nil, model.NewUnauthenticatedError()
	}
	workouts, err := s.repo.ListByUserID(ctx, principal.UserID())
	if err != nil {
		return nil, fmt.Errorf("failed to list workouts: %w", err)
	}
	return workouts, nil
}

// Get は指定IDのワークアウトを返す。所有者以外は FORBIDDEN。
func (s *Service) Get(ctx context.Context, principal *model.Principal, id string) (*model.Workout, error) {
	return s.findOwned(ctx, principal, id)
}

// Create はワークアウトを作成する。date・type・durationは必須。
func (s *Service) Create(ctx context.Context, principal *model.Principal, input model.WorkoutPatch) (*model.Workout, error) {
	if principal.UserID() == "" {
		return nil, model.NewUnauthenticatedError()
	}
	if input.Date == nil || input.Type == nil || input.Duration == nil {
		return nil, model.NewValidationError("Please fill out the required fields")
	}

	w := &model.Workout{UserID: principal.UserID()}
	s.sanitize(&input).Apply(w)
	if err := validate(w); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create workout: %w", err)
	}

	s.metrics.RecordWorkoutMutation("create")
	slog.Info("workout created",
		slog.String("user_id", w.UserID),
		slog.String("workout_id", w.ID),
	)
	return w, nil
}

// Update はワークアウトを部分更新する。パッチで指定されないフィールドは既存の値を維持する。
func (s *Service) Update(ctx context.Context, principal *model.Principal, id string, patch model.WorkoutPatch) (*model.Workout, error) {
	w, err := s.findOwned(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	s.sanitize(&patch).Apply(w)
	if err := validate(w); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update workout: %w", err)
	}

	s.metrics.RecordWorkoutMutation("update")
	slog.Info("workout updated",
		slog.String("user_id", w.UserID),
		slog.String("workout_id", w.ID),
	)
	return w, nil
}

// Delete はワークアウトを削除する。
func (s *Service) Delete(ctx context.Context, principal *model.Principal, id string) error {
	w, err := s.findOwned(ctx, principal, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, w.ID); err != nil {
		return fmt.Errorf("failed to delete workout: %w", err)
	}

	s.metrics.RecordWorkoutMutation("delete")
	slog.Info("workout deleted",
		slog.String("user_id", w.UserID),
		slog.String("workout_id", w.ID),
	)
	return nil
}

// findOwned はワークアウトを取得し、所有者を確認する。
// UUID形式でないIDはストアに問い合わせず NOT_FOUND とする。
func (s *Service) findOwned(ctx context.Context, principal *model.Principal, id string) (*model.Workout, error) {
	if principal.UserID() == "" {
		return nil, model.NewUnauthenticatedError()
	}

	var w *model.Workout
	if _, err := uuid.Parse(id); err == nil {
		w, err = s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to find workout: %w", err)
		}
	}

	if err := access.RequireOwnership(w, principal); err != nil {
		if w != nil {
			slog.Warn("workout access denied",
				slog.String("user_id", principal.UserID()),
				slog.String("workout_id", id),
			)
		}
		return nil, err
	}
	return w, nil
}

// sanitize は自由記述フィールドからHTMLを除去したパッチを返す。
func (s *Service) sanitize(p *model.WorkoutPatch) model.WorkoutPatch {
	out := *p
	if p.Type != nil {
		clean := s.sanitizer.Sanitize(*p.Type)
		out.Type = &clean
	}
	return out
}

// validate はワークアウトの値域を検証する。
func validate(w *model.Workout) error {
	if w.Date.IsZero() {
		return model.NewValidationError("date is required")
	}
	if w.Type == "" {
		return model.NewValidationError("type is required")
	}
	if utf8.RuneCountInString(w.Type) > MaxTypeLength {
		return model.NewValidationError(fmt.Sprintf("type must be at most %d characters", MaxTypeLength))
	}
	if !finite(w.Duration) || w.Duration <= 0 {
		return model.NewValidationError("duration must be greater than 0")
	}

	optional := []struct {
		name  string
		value *float64
	}{
		{"distance", w.Distance},
		{"avgSpeed", w.AvgSpeed},
		{"avgHeartRate", w.AvgHeartRate},
		{"calories", w.Calories},
	}
	for _, f := range optional {
		if f.value != nil && (!finite(*f.value) || *f.value < 0) {
			return model.NewValidationError(f.name + " must not be negative")
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
