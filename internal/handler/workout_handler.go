package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beatmiles/beatmiles/internal/middleware"
	"github.com/beatmiles/beatmiles/internal/model"
)

// WorkoutServiceInterface はワークアウトハンドラーが必要とするサービスインターフェース。
type WorkoutServiceInterface interface {
	List(ctx context.Context, principal *model.Principal) ([]*model.Workout, error)
	Get(ctx context.Context, principal *model.Principal, id string) (*model.Workout, error)
	Create(ctx context.Context, principal *model.Principal, input model.WorkoutPatch) (*model.Workout, error)
	Update(ctx context.Context, principal *model.Principal, id string, patch model.WorkoutPatch) (*model.Workout, error)
	Delete(ctx context.Context, principal *model.Principal, id string) error
}

// WorkoutHandler はワークアウト管理のHTTPハンドラー。
type WorkoutHandler struct {
	service WorkoutServiceInterface
}

// NewWorkoutHandler はWorkoutHandlerを生成する。
func NewWorkoutHandler(service WorkoutServiceInterface) *WorkoutHandler {
	return &WorkoutHandler{service: service}
}

// workoutRequest はワークアウト作成・更新リクエストのボディ。
// 未指定・null・空文字列のフィールドは「指定なし」として扱う。
type workoutRequest struct {
	Date         workoutDate `json:"date"`
	Type         *string     `json:"type"`
	Duration     flexFloat   `json:"duration"`
	Distance     flexFloat   `json:"distance"`
	AvgSpeed     flexFloat   `json:"avgSpeed"`
	AvgHeartRate flexFloat   `json:"avgHeartRate"`
	Calories     flexFloat   `json:"calories"`
}

// toPatch はリクエストをサービス層のパッチに変換する。
func (req workoutRequest) toPatch() model.WorkoutPatch {
	var typ *string
	if req.Type != nil && strings.TrimSpace(*req.Type) != "" {
		typ = req.Type
	}
	return model.WorkoutPatch{
		Date:         req.Date.value,
		Type:         typ,
		Duration:     req.Duration.value,
		Distance:     req.Distance.value,
		AvgSpeed:     req.AvgSpeed.value,
		AvgHeartRate: req.AvgHeartRate.value,
		Calories:     req.Calories.value,
	}
}

// workoutResponse はワークアウトのAPIレスポンス。
type workoutResponse struct {
	ID           string   `json:"id"`
	UserID       string   `json:"userId"`
	Date         string   `json:"date"`
	Type         string   `json:"type"`
	Duration     float64  `json:"duration"`
	Distance     *float64 `json:"distance,omitempty"`
	AvgSpeed     *float64 `json:"avgSpeed,omitempty"`
	AvgHeartRate *float64 `json:"avgHeartRate,omitempty"`
	Calories     *float64 `json:"calories,omitempty"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

type workoutListResponse struct {
	Success  bool              `json:"success"`
	Workouts []workoutResponse `json:"workouts"`
}

type workoutDetailResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Workout workoutResponse `json:"workout"`
}

// List は認証ユーザーのワークアウト一覧を返す。
// GET /api/workouts
func (h *WorkoutHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	workouts, err := h.service.List(r.Context(), principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := workoutListResponse{Success: true, Workouts: make([]workoutResponse, 0, len(workouts))}
	for _, wo := range workouts {
		resp.Workouts = append(resp.Workouts, toWorkoutResponse(wo))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はワークアウトを1件返す。
// GET /api/workouts/{id}
func (h *WorkoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	wo, err := h.service.Get(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, workoutDetailResponse{Success: true, Workout: toWorkoutResponse(wo)})
}

// Create はワークアウトを記録する。
// POST /api/workouts
func (h *WorkoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req workoutRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	wo, err := h.service.Create(r.Context(), principal, req.toPatch())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, workoutDetailResponse{
		Success: true,
		Message: "Workout added successfully",
		Workout: toWorkoutResponse(wo),
	})
}

// Update はワークアウトを部分更新する。
// PUT /api/workouts/{id}
func (h *WorkoutHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req workoutRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	wo, err := h.service.Update(r.Context(), principal, chi.URLParam(r, "id"), req.toPatch())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, workoutDetailResponse{
		Success: true,
		Message: "Workout updated successfully",
		Workout: toWorkoutResponse(wo),
	})
}

// Delete はワークアウトを削除する。
// DELETE /api/workouts/{id}
func (h *WorkoutHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Workout deleted successfully"})
}

// requirePrincipal はコンテキストから主体を取得する。存在しない場合は401を書き込む。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}
	return principal, true
}

func toWorkoutResponse(wo *model.Workout) workoutResponse {
	return workoutResponse{
		ID:           wo.ID,
		UserID:       wo.UserID,
		Date:         wo.Date.UTC().Format(timeLayout),
		Type:         wo.Type,
		Duration:     wo.Duration,
		Distance:     wo.Distance,
		AvgSpeed:     wo.AvgSpeed,
		AvgHeartRate: wo.AvgHeartRate,
		Calories:     wo.Calories,
		CreatedAt:    wo.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    wo.UpdatedAt.UTC().Format(timeLayout),
	}
}

// flexFloat は数値または数値文字列を受け付ける。空文字列とnullは未指定とみなす。
type flexFloat struct {
	value *float64
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		f.value = &v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.NewValidationError(fmt.Sprintf("%q is not a number", v))
		}
		f.value = &n
	default:
		return model.NewValidationError("numeric fields must be numbers")
	}
	return nil
}

// workoutDate はRFC 3339形式またはYYYY-MM-DD形式の日付を受け付ける。
type workoutDate struct {
	value *time.Time
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (d *workoutDate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return model.NewValidationError("date must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			d.value = &t
			return nil
		}
	}
	return model.NewValidationError("date must be RFC 3339 or YYYY-MM-DD")
}
