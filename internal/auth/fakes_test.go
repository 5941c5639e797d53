package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beatmiles/beatmiles/internal/model"
	"github.com/beatmiles/beatmiles/internal/repository"
)

// --- モック定義 ---

// memoryUserRepo は一意制約を再現するインメモリのUserRepository。
// 各メソッドはfn系フィールドが設定されていればそちらを優先する。
type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	findByEmailFn      func(ctx context.Context, email string) (*model.User, error)
	findByProviderIDFn func(ctx context.Context, p model.Provider, id string) (*model.User, error)
	createFn           func(ctx context.Context, user *model.User) error

	createCalls int
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*model.User)}
}

func (m *memoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (m *memoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if email != "" && u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memoryUserRepo) FindByProviderID(ctx context.Context, p model.Provider, id string) (*model.User, error) {
	if m.findByProviderIDFn != nil {
		return m.findByProviderIDFn(ctx, p, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if id != "" && u.ProviderID(p) == id {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memoryUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if err := m.checkUniqueLocked(user); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *memoryUserRepo) Save(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUniqueLocked(user); err != nil {
		return err
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *memoryUserRepo) checkUniqueLocked(user *model.User) error {
	for _, u := range m.users {
		if u.ID == user.ID {
			continue
		}
		if user.Email != "" && u.Email == user.Email {
			return errors.Join(model.ErrConflict, errors.New("users_email_key"))
		}
		for _, p := range model.Providers() {
			if id := user.ProviderID(p); id != "" && u.ProviderID(p) == id {
				return errors.Join(model.ErrConflict, errors.New("users_"+string(p)+"_id_key"))
			}
		}
	}
	return nil
}

func (m *memoryUserRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *memoryUserRepo) put(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[u.ID] = &c
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session

	createFn   func(ctx context.Context, session *model.Session) error
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
	deleteFn   func(ctx context.Context, id string) error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *session
	m.sessions[session.ID] = &c
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type mockOAuthProvider struct {
	name           model.Provider
	exchangeCodeFn func(ctx context.Context, code string) (*ExternalProfile, error)
}

func (m *mockOAuthProvider) Name() model.Provider { return m.name }

func (m *mockOAuthProvider) LoginURL(state string) string {
	return "https://idp.example.com/authorize?provider=" + string(m.name) + "&state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ExternalProfile, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not implemented")
}

// recordingMetrics は記録内容を保持するMetricsCollector。
type recordingMetrics struct {
	mu           sync.Mutex
	attempts     []string
	usersCreated []string
	sessions     []string
}

func (r *recordingMetrics) RecordAuthAttempt(strategy, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, strategy+":"+outcome)
}

func (r *recordingMetrics) RecordSessionCreated(strategy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, strategy)
}

func (r *recordingMetrics) RecordUserCreated(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usersCreated = append(r.usersCreated, source)
}

func (r *recordingMetrics) RecordWorkoutMutation(string)       {}
func (r *recordingMetrics) RecordHTTPStatus(int)               {}
func (r *recordingMetrics) RecordRequestLatency(time.Duration) {}
func (r *recordingMetrics) RecordSessionsSwept(int)            {}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memoryUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// newTestHasher はテスト用のPasswordHasherを生成する。
func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(MinBcryptCost)
	if err != nil {
		t.Fatalf("NewPasswordHasher failed: %v", err)
	}
	return h
}

// seedLocalUser はパスワード付きユーザーを登録する。
func seedLocalUser(t *testing.T, users *memoryUserRepo, hasher *PasswordHasher, email, password string) *model.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	u := &model.User{ID: uuid.NewString(), Email: email, PasswordHash: hash}
	users.put(u)
	return u
}
