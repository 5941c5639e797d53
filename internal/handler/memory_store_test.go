package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beatmiles/beatmiles/internal/model"
	"github.com/beatmiles/beatmiles/internal/repository"
)

// memoryStore はルーターの結合テスト用にユーザー・セッション・ワークアウトを保持するインメモリストア。
// 実サービス（auth.Service, workout.Service）と組み合わせて使う。
type memoryStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.Session
	workouts map[string]*model.Workout
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
		workouts: make(map[string]*model.Workout),
	}
}

type memoryUsers struct{ *memoryStore }
type memorySessions struct{ *memoryStore }
type memoryWorkouts struct{ *memoryStore }

var (
	_ repository.UserRepository    = memoryUsers{}
	_ repository.SessionRepository = memorySessions{}
	_ repository.WorkoutRepository = memoryWorkouts{}
)

func (s memoryUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (s memoryUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (s memoryUsers) FindByProviderID(_ context.Context, p model.Provider, externalID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if externalID != "" && u.ProviderID(p) == externalID {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (s memoryUsers) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if user.Email != "" && u.Email == user.Email {
			return model.ErrConflict
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s memoryUsers) Save(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s memorySessions) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.sessions[session.ID] = &c
	return nil
}

func (s memorySessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && !sess.Expired(time.Now()) {
		c := *sess
		return &c, nil
	}
	return nil, nil
}

func (s memorySessions) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s memorySessions) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s memoryWorkouts) ListByUserID(_ context.Context, userID string) ([]*model.Workout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workouts := []*model.Workout{}
	for _, w := range s.workouts {
		if w.UserID == userID {
			c := *w
			workouts = append(workouts, &c)
		}
	}
	sort.Slice(workouts, func(i, j int) bool {
		if !workouts[i].Date.Equal(workouts[j].Date) {
			return workouts[i].Date.After(workouts[j].Date)
		}
		return workouts[i].CreatedAt.After(workouts[j].CreatedAt)
	})
	return workouts, nil
}

func (s memoryWorkouts) FindByID(_ context.Context, id string) (*model.Workout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workouts[id]; ok {
		c := *w
		return &c, nil
	}
	return nil, nil
}

func (s memoryWorkouts) Create(_ context.Context, w *model.Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = uuid.NewString()
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	c := *w
	s.workouts[w.ID] = &c
	return nil
}

func (s memoryWorkouts) Update(_ context.Context, w *model.Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workouts[w.ID]
	if !ok {
		return nil
	}
	w.UserID = existing.UserID
	w.UpdatedAt = time.Now()
	c := *w
	s.workouts[w.ID] = &c
	return nil
}

func (s memoryWorkouts) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workouts, id)
	return nil
}

func (s *memoryStore) workoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workouts)
}
