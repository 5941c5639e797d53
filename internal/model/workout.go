package model

import "time"

// Workout は1回分のトレーニング記録を表す。所有者は常に1人。
type Workout struct {
	ID           string
	UserID       string
	Date         time.Time
	Type         string
	Duration     float64  // 分
	Distance     *float64 // km
	AvgSpeed     *float64 // km/h
	AvgHeartRate *float64 // bpm
	Calories     *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OwnerID は所有ユーザーのIDを返す。nilレシーバーでは空文字列を返す。
func (w *Workout) OwnerID() string {
	if w == nil {
		return ""
	}
	return w.UserID
}

// ResourceKind はエラーメッセージ用のリソース名を返す。
func (*Workout) ResourceKind() string {
	return "Workout"
}

// WorkoutPatch はワークアウトの部分更新内容。
// nilのフィールドは変更せず、既存の値を維持する。
type WorkoutPatch struct {
	Date         *time.Time
	Type         *string
	Duration     *float64
	Distance     *float64
	AvgSpeed     *float64
	AvgHeartRate *float64
	Calories     *float64
}

// Apply はパッチをワークアウトに適用する。
func (p WorkoutPatch) Apply(w *Workout) {
	if p.Date != nil {
		w.Date = *p.Date
	}
	if p.Type != nil {
		w.Type = *p.Type
	}
	if p.Duration != nil {
		w.Duration = *p.Duration
	}
	if p.Distance != nil {
		w.Distance = p.Distance
	}
	if p.AvgSpeed != nil {
		w.AvgSpeed = p.AvgSpeed
	}
	if p.AvgHeartRate != nil {
		w.AvgHeartRate = p.AvgHeartRate
	}
	if p.Calories != nil {
		w.Calories = p.Calories
	}
}
