package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/beatmiles/beatmiles/internal/auth"
	"github.com/beatmiles/beatmiles/internal/metrics"
	"github.com/beatmiles/beatmiles/internal/middleware"
	"github.com/beatmiles/beatmiles/internal/security"
	"github.com/beatmiles/beatmiles/internal/workout"
)

// --- 結合テスト用ルーター構築ヘルパー ---

type stubHealthChecker struct {
	err error
}

func (s stubHealthChecker) PingContext(context.Context) error { return s.err }

type routerOptions struct {
	csrf           bool
	authBurst      int
	healthError    error
	trustedProxies []netip.Prefix
}

// newTestServer は実サービスとインメモリストアで構成したルーターを起動する。
func newTestServer(t *testing.T, opts routerOptions) (*httptest.Server, *memoryStore) {
	t.Helper()

	store := newMemoryStore()
	hasher, err := auth.NewPasswordHasher(auth.MinBcryptCost)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	secret := []byte("router-test-secret-0123456789")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	users := memoryUsers{store}
	authService := auth.NewService(
		users, memorySessions{store}, hasher,
		auth.NewCookieSigner(secret),
		auth.NewStateSigner(secret, auth.DefaultStateTTL),
		auth.ServiceConfig{Metrics: collector},
		auth.NewLocalStrategy(auth.NewCredentialVerifier(users, hasher)),
	)
	workoutService := workout.NewService(memoryWorkouts{store}, security.NewTextSanitizer(), collector)

	rlConfig := middleware.DefaultRateLimiterConfig()
	if opts.authBurst > 0 {
		rlConfig.AuthRate = rate.Limit(0.001)
		rlConfig.AuthBurst = opts.authBurst
	}
	rateLimiter := middleware.NewRateLimiter(rlConfig)
	t.Cleanup(rateLimiter.Stop)

	router := NewRouter(&RouterDeps{
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		SessionResolver:   authService,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rateLimiter,
		TrustedProxies:    opts.trustedProxies,
		CSRFEnabled:       opts.csrf,
		HealthChecker:     stubHealthChecker{err: opts.healthError},
		AuthService:       authService,
		AuthConfig: AuthHandlerConfig{
			SessionMaxAge:   86400,
			SuccessRedirect: "/index.html",
			FailureRedirect: "/login.html",
		},
		WorkoutService: workoutService,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

// browser はCookieを保持するクライアント。リダイレクトは追わない。
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	header http.Header // 全リクエストに付ける追加ヘッダー
}

func newBrowser(t *testing.T, srv *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &browser{
		t:    t,
		base:   srv.URL,
		header: http.Header{},
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) cookie(name string) string {
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// do はリクエストを送り、ステータスとデコード済みボディを返す。
// CSRFトークンCookieがあればヘッダーにも付ける。
func (b *browser) do(method, path, body string) (int, map[string]interface{}) {
	b.t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, b.base+path, r)
	if err != nil {
		b.t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range b.header {
		req.Header[k] = v
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := b.cookie("csrf_token"); token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			b.t.Fatalf("%s %s: invalid JSON %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func (b *browser) registerAndLogin(email, password string) {
	b.t.Helper()
	creds := `{"email":"` + email + `","password":"` + password + `"}`
	if status, body := b.do(http.MethodPost, "/api/auth/register", creds); status != http.StatusCreated {
		b.t.Fatalf("register %s: status = %d, body = %v", email, status, body)
	}
	if status, body := b.do(http.MethodPost, "/api/auth/login", creds); status != http.StatusOK {
		b.t.Fatalf("login %s: status = %d, body = %v", email, status, body)
	}
}

func workoutsOf(t *testing.T, body map[string]interface{}) []interface{} {
	t.Helper()
	list, ok := body["workouts"].([]interface{})
	if !ok {
		t.Fatalf("workouts missing from %v", body)
	}
	return list
}

// --- テスト ---

func TestRouter_SessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})
	alice := newBrowser(t, srv)

	if status, body := alice.do(http.MethodGet, "/api/auth/check", ""); status != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("check before login = %d %v", status, body)
	}

	alice.registerAndLogin("alice@example.com", "secret1")

	status, body := alice.do(http.MethodGet, "/api/auth/check", "")
	if status != http.StatusOK || body["authenticated"] != true {
		t.Fatalf("check after login = %d %v", status, body)
	}
	user, _ := body["user"].(map[string]interface{})
	if user["email"] != "alice@example.com" {
		t.Errorf("user = %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Error("password hash must not be exposed")
	}

	if status, _ := alice.do(http.MethodPost, "/api/auth/logout", ""); status != http.StatusOK {
		t.Fatalf("logout status = %d", status)
	}
	if status, body := alice.do(http.MethodGet, "/api/auth/check", ""); status != http.StatusOK || body["authenticated"] != false {
		t.Errorf("check after logout = %d %v", status, body)
	}
	if status, _ := alice.do(http.MethodGet, "/api/workouts", ""); status != http.StatusUnauthorized {
		t.Errorf("workouts after logout status = %d, want 401", status)
	}
}

func TestRouter_StaleCookieAfterLogoutIsRejected(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})
	alice := newBrowser(t, srv)
	alice.registerAndLogin("alice@example.com", "secret1")
	stale := alice.cookie(middleware.SessionCookieName)

	alice.do(http.MethodPost, "/api/auth/logout", "")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/workouts", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: stale})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRouter_LoginFailures(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})
	alice := newBrowser(t, srv)
	alice.registerAndLogin("alice@example.com", "secret1")

	eve := newBrowser(t, srv)
	for _, creds := range []string{
		`{"email":"alice@example.com","password":"wrong-pass"}`,
		`{"email":"nobody@example.com","password":"secret1"}`,
	} {
		status, body := eve.do(http.MethodPost, "/api/auth/login", creds)
		if status != http.StatusUnauthorized || body["message"] != "Invalid email or password" {
			t.Errorf("%s: %d %v", creds, status, body)
		}
	}
	if eve.cookie(middleware.SessionCookieName) != "" {
		t.Error("failed login must not set a session cookie")
	}

	if status, body := eve.do(http.MethodPost, "/api/auth/register", `{"email":"alice@example.com","password":"another1"}`); status != http.StatusConflict {
		t.Errorf("duplicate register = %d %v, want 409", status, body)
	}
}

func TestRouter_WorkoutOwnership(t *testing.T) {
	srv, store := newTestServer(t, routerOptions{})
	alice := newBrowser(t, srv)
	alice.registerAndLogin("alice@example.com", "secret1")
	bob := newBrowser(t, srv)
	bob.registerAndLogin("bob@example.com", "secret2")

	status, body := alice.do(http.MethodPost, "/api/workouts", `{"date":"2024-06-01","type":"<b>Running</b>","duration":"45","distance":"10.5"}`)
	if status != http.StatusCreated {
		t.Fatalf("create = %d %v", status, body)
	}
	created, _ := body["workout"].(map[string]interface{})
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("workout id missing: %v", body)
	}
	if created["type"] != "Running" {
		t.Errorf("type = %v, markup should be stripped", created["type"])
	}

	// 他人のワークアウトは見えない
	if _, body := bob.do(http.MethodGet, "/api/workouts", ""); len(workoutsOf(t, body)) != 0 {
		t.Errorf("bob sees %v", body)
	}
	for _, tc := range []struct {
		method string
		body   string
	}{
		{http.MethodGet, ""},
		{http.MethodPut, `{"duration":1}`},
		{http.MethodDelete, ""},
	} {
		status, body := bob.do(tc.method, "/api/workouts/"+id, tc.body)
		if status != http.StatusForbidden || body["message"] != "Unauthorized" {
			t.Errorf("bob %s = %d %v, want 403", tc.method, status, body)
		}
	}
	if store.workoutCount() != 1 {
		t.Fatalf("workout count = %d, want 1", store.workoutCount())
	}

	// 所有者は参照・更新・削除できる
	_, body = alice.do(http.MethodGet, "/api/workouts", "")
	list := workoutsOf(t, body)
	if len(list) != 1 || list[0].(map[string]interface{})["duration"] != float64(45) {
		t.Fatalf("alice list = %v", body)
	}

	status, body = alice.do(http.MethodPut, "/api/workouts/"+id, `{"duration":50,"calories":"0"}`)
	if status != http.StatusOK {
		t.Fatalf("update = %d %v", status, body)
	}
	updated, _ := body["workout"].(map[string]interface{})
	if updated["duration"] != float64(50) || updated["calories"] != float64(0) || updated["distance"] != 10.5 {
		t.Errorf("updated = %v", updated)
	}

	if status, body := alice.do(http.MethodPut, "/api/workouts/"+id, `{"duration":-5}`); status != http.StatusBadRequest {
		t.Errorf("invalid update = %d %v, want 400", status, body)
	}

	if status, _ := alice.do(http.MethodDelete, "/api/workouts/"+id, ""); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if status, body := alice.do(http.MethodGet, "/api/workouts/"+id, ""); status != http.StatusNotFound || body["message"] != "Workout not found" {
		t.Errorf("get after delete = %d %v", status, body)
	}
}

func TestRouter_WorkoutTypeRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})
	alice := newBrowser(t, srv)
	alice.registerAndLogin("alice@example.com", "secret1")

	status, body := alice.do(http.MethodPost, "/api/workouts", `{"date":"2024-06-01","type":"Run & Bike","duration":60}`)
	if status != http.StatusCreated {
		t.Fatalf("create = %d %v", status, body)
	}
	created, _ := body["workout"].(map[string]interface{})
	id, _ := created["id"].(string)
	if created["type"] != "Run & Bike" {
		t.Errorf("created type = %v, want %q", created["type"], "Run & Bike")
	}

	status, body = alice.do(http.MethodPut, "/api/workouts/"+id, `{"type":"O'Neil's HIIT 5>3"}`)
	if status != http.StatusOK {
		t.Fatalf("update = %d %v", status, body)
	}

	_, body = alice.do(http.MethodGet, "/api/workouts/"+id, "")
	got, _ := body["workout"].(map[string]interface{})
	if got["type"] != "O'Neil's HIIT 5>3" {
		t.Errorf("stored type = %v, want %q", got["type"], "O'Neil's HIIT 5>3")
	}
}

func TestRouter_WorkoutValidation(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})
	alice := newBrowser(t, srv)
	alice.registerAndLogin("alice@example.com", "secret1")

	tests := []struct {
		name string
		body string
	}{
		{"必須項目なし", `{"type":"Running"}`},
		{"負の時間", `{"date":"2024-06-01","type":"Running","duration":-1}`},
		{"数値でない距離", `{"date":"2024-06-01","type":"Running","duration":30,"distance":"far"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := alice.do(http.MethodPost, "/api/workouts", tt.body)
			if status != http.StatusBadRequest || body["code"] != "VALIDATION_ERROR" {
				t.Errorf("status = %d body = %v", status, body)
			}
		})
	}

	if status, _ := alice.do(http.MethodGet, "/api/workouts/not-a-uuid", ""); status != http.StatusNotFound {
		t.Errorf("malformed id status = %d, want 404", status)
	}
}

func TestRouter_CSRFProtection(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{csrf: true})
	b := newBrowser(t, srv)

	// トークンなしの状態変更リクエストは拒否する
	status, body := b.do(http.MethodPost, "/api/auth/register", `{"email":"a@example.com","password":"secret1"}`)
	if status != http.StatusForbidden || body["code"] != "CSRF_FAILED" {
		t.Fatalf("register without token = %d %v", status, body)
	}

	status, body = b.do(http.MethodGet, "/api/auth/csrf-token", "")
	if status != http.StatusOK {
		t.Fatalf("csrf-token status = %d", status)
	}
	token, _ := body["token"].(string)
	if token == "" || token != b.cookie("csrf_token") {
		t.Fatalf("token = %q, cookie = %q", token, b.cookie("csrf_token"))
	}

	b.registerAndLogin("a@example.com", "secret1")
	if status, _ := b.do(http.MethodGet, "/api/workouts", ""); status != http.StatusOK {
		t.Errorf("workouts = %d", status)
	}
}

func TestRouter_AuthRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{authBurst: 2})
	b := newBrowser(t, srv)

	creds := `{"email":"nobody@example.com","password":"secret1"}`
	for i := 0; i < 2; i++ {
		if status, _ := b.do(http.MethodPost, "/api/auth/login", creds); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, status)
		}
	}
	status, body := b.do(http.MethodPost, "/api/auth/login", creds)
	if status != http.StatusTooManyRequests || body["code"] != "RATE_LIMITED" {
		t.Errorf("over limit = %d %v, want 429", status, body)
	}

	// 状態確認はログイン用の制限を受けない
	if status, _ := b.do(http.MethodGet, "/api/auth/check", ""); status != http.StatusOK {
		t.Errorf("check status = %d", status)
	}
}

func TestRouter_AuthRateLimitIgnoresForwardedFor(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{authBurst: 2})
	b := newBrowser(t, srv)

	creds := `{"email":"nobody@example.com","password":"secret1"}`
	var statuses []int
	for i := 1; i <= 4; i++ {
		b.header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		b.header.Set("X-Real-IP", "10.0.1."+strconv.Itoa(i))
		status, _ := b.do(http.MethodPost, "/api/auth/login", creds)
		statuses = append(statuses, status)
	}

	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
}

func TestRouter_AuthRateLimitTrustsConfiguredProxy(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{
		authBurst: 2,
		trustedProxies: []netip.Prefix{
			netip.MustParsePrefix("127.0.0.0/8"),
			netip.MustParsePrefix("::1/128"),
		},
	})
	b := newBrowser(t, srv)

	creds := `{"email":"nobody@example.com","password":"secret1"}`
	for i := 1; i <= 4; i++ {
		b.header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		if status, body := b.do(http.MethodPost, "/api/auth/login", creds); status != http.StatusUnauthorized {
			t.Fatalf("client %d status = %d %v, each forwarded client has its own limit", i, status, body)
		}
	}

	// 同じクライアントはプロキシ経由でも制限される
	b.header.Set("X-Forwarded-For", "10.0.0.1")
	if status, _ := b.do(http.MethodPost, "/api/auth/login", creds); status != http.StatusUnauthorized {
		t.Fatalf("second attempt status = %d, want 401", status)
	}
	if status, _ := b.do(http.MethodPost, "/api/auth/login", creds); status != http.StatusTooManyRequests {
		t.Errorf("third attempt status = %d, want 429", status)
	}
}

func TestRouter_OAuthRoutes(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})
	b := newBrowser(t, srv)

	for _, path := range []string{"/api/auth/twitter", "/api/auth/google"} {
		if status, body := b.do(http.MethodGet, path, ""); status != http.StatusNotFound {
			t.Errorf("%s = %d %v, want 404", path, status, body)
		}
	}

	status, _ := b.do(http.MethodGet, "/api/auth/google/callback?code=c&state=s", "")
	if status != http.StatusTemporaryRedirect {
		t.Errorf("callback for unconfigured provider = %d, want redirect", status)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})
	b := newBrowser(t, srv)

	if status, body := b.do(http.MethodGet, "/health", ""); status != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", status, body)
	}

	b.do(http.MethodGet, "/api/auth/check", "")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `beatmiles_http_status_total{status_code="200"}`) {
		t.Errorf("metrics output missing http status counter:\n%s", raw)
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{healthError: errors.New("db down")})
	b := newBrowser(t, srv)

	if status, body := b.do(http.MethodGet, "/health", ""); status != http.StatusServiceUnavailable || body["status"] != "unavailable" {
		t.Errorf("health = %d %v", status, body)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, routerOptions{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/workouts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied to API responses")
	}
}
