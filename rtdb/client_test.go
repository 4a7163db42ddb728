package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// fakeDB is a scripted realtime database plus auth endpoints.
type fakeDB struct {
	mu       sync.Mutex
	data     map[string]string // path -> raw json
	signups  int
	refresh  int
	idToken  string
	failAuth bool
	// refreshStatus, when set, is returned by the token endpoint.
	refreshStatus int
}

func newFakeDB() *fakeDB {
	return &fakeDB{data: map[string]string{}, idToken: "tok-1"}
}

func (f *fakeDB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/signup":
		if r.URL.Query().Get("key") != "key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.signups++
		if f.failAuth {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"code":400,"message":"ADMIN_ONLY_OPERATION"}}`)
			return
		}
		io.WriteString(w, `{"idToken":"`+f.idToken+`","refreshToken":"ref","expiresIn":"3600","localId":"u1"}`)
		return
	case "/token":
		r.ParseForm()
		if r.PostForm.Get("refresh_token") != "ref" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.refresh++
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			io.WriteString(w, `{"error":{"code":400,"message":"USER_NOT_FOUND"}}`)
			return
		}
		f.idToken = "tok-2"
		io.WriteString(w, `{"id_token":"tok-2","refresh_token":"ref","expires_in":"3600","user_id":"u1"}`)
		return
	}

	if r.URL.Query().Get("auth") != f.idToken {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"Permission denied"}`)
		return
	}
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")
	switch r.Method {
	case http.MethodGet:
		v, ok := f.data[path]
		if !ok {
			v = "null"
		}
		io.WriteString(w, v)
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.data[path] = string(b)
		w.Write(b)
	}
}

func (f *fakeDB) counts() (signups, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signups, f.refresh
}

func (f *fakeDB) get(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[path]
}

func (f *fakeDB) setFailAuth(v bool) {
	f.mu.Lock()
	f.failAuth = v
	f.mu.Unlock()
}

func (f *fakeDB) setRefreshStatus(code int) {
	f.mu.Lock()
	f.refreshStatus = code
	f.mu.Unlock()
}

// rotate makes the database reject the current id token.
func (f *fakeDB) rotate(id string) {
	f.mu.Lock()
	f.idToken = id
	f.mu.Unlock()
}

func newTestClient(t *testing.T, f *fakeDB) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "key",
		WithLogger(zap.NewNop()),
		WithHTTPClient(srv.Client()),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithEndpoints(srv.URL+"/signup", srv.URL+"/token"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New("", "key"); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := New("db.example", ""); err == nil {
		t.Error("expected error for empty api key")
	}
	c, err := New("db.example/", "key")
	if err != nil {
		t.Fatal(err)
	}
	if c.dbURL != "https://db.example" {
		t.Errorf("dbURL = %q", c.dbURL)
	}
}

func TestNotReadyBeforeSignUp(t *testing.T) {
	f := newFakeDB()
	c, _ := newTestClient(t, f)
	if _, err := c.GetBool(context.Background(), "actuador/led_g"); !errors.Is(err, ErrNotReady) {
		t.Errorf("GetBool before sign up err = %v", err)
	}
}

func TestReadyLazySignUp(t *testing.T) {
	f := newFakeDB()
	f.setFailAuth(true)
	c, _ := newTestClient(t, f)
	c.auth = rate.NewLimiter(rate.Every(time.Hour), 1)

	if c.Ready() {
		t.Fatal("Ready with failing sign up")
	}
	// limiter blocks the immediate retry
	if c.Ready() {
		t.Fatal("Ready on second attempt")
	}
	if n, _ := f.counts(); n != 1 {
		t.Errorf("signups = %d, want 1", n)
	}

	f.setFailAuth(false)
	c.auth = rate.NewLimiter(rate.Inf, 1)
	if !c.Ready() {
		t.Fatal("not ready after successful sign up")
	}
	if n, _ := f.counts(); !c.Ready() || n != 2 {
		t.Errorf("valid token should not sign up again, signups = %d", n)
	}
}

func TestGetAndSet(t *testing.T) {
	f := newFakeDB()
	f.data["actuador/led_g"] = "true"
	f.data["actuador/rgb/red"] = "200"
	f.data["actuador/rgb/green"] = "12.5"
	f.data["actuador/led_r"] = `"on"`
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	if err := c.SignUp(ctx); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if v, err := c.GetBool(ctx, "actuador/led_g"); err != nil || !v {
		t.Errorf("GetBool = %v, %v", v, err)
	}
	if v, err := c.GetInt(ctx, "actuador/rgb/red"); err != nil || v != 200 {
		t.Errorf("GetInt = %v, %v", v, err)
	}
	if _, err := c.GetInt(ctx, "actuador/rgb/green"); !errors.Is(err, ErrType) {
		t.Errorf("GetInt fractional err = %v", err)
	}
	if _, err := c.GetBool(ctx, "actuador/led_r"); !errors.Is(err, ErrType) {
		t.Errorf("GetBool string err = %v", err)
	}
	if _, err := c.GetInt(ctx, "actuador/rgb/blue"); !errors.Is(err, ErrNoValue) {
		t.Errorf("GetInt missing err = %v", err)
	}

	if err := c.SetString(ctx, "sensor/1/timestamp", "2024-01-15T10:30:00"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := c.SetFloat(ctx, "sensor/1/temperatura", 31.5); err != nil {
		t.Fatalf("SetFloat: %v", err)
	}
	var s string
	json.Unmarshal([]byte(f.get("sensor/1/timestamp")), &s)
	if s != "2024-01-15T10:30:00" {
		t.Errorf("stored timestamp = %q", f.get("sensor/1/timestamp"))
	}
	if got := f.get("sensor/1/temperatura"); got != "31.5" {
		t.Errorf("stored temperatura = %q", got)
	}
}

func TestUnauthorizedRefreshes(t *testing.T) {
	f := newFakeDB()
	f.data["actuador/led_g"] = "false"
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	if err := c.SignUp(ctx); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	// server rotates the token behind our back
	f.rotate("rotated")
	if _, err := c.GetBool(ctx, "actuador/led_g"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("GetBool err = %v, want ErrUnauthorized", err)
	}
	if !c.Ready() {
		t.Fatal("Ready should refresh the dropped token")
	}
	if _, n := f.counts(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if _, err := c.GetBool(ctx, "actuador/led_g"); err != nil {
		t.Errorf("GetBool after refresh: %v", err)
	}
}

func TestReadyRefreshesNearExpiry(t *testing.T) {
	f := newFakeDB()
	c, _ := newTestClient(t, f)
	if err := c.SignUp(context.Background()); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	c.now = func() time.Time { return now.Add(58 * time.Minute) }
	if !c.Ready() {
		t.Fatal("not ready")
	}
	if _, n := f.counts(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
}

func TestEndpointEscapesToken(t *testing.T) {
	c, err := New("https://db.example", "key")
	if err != nil {
		t.Fatal(err)
	}
	c.tok = token{id: "a/b+c"}
	u, err := c.endpoint("/actuador/led_g/")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://db.example/actuador/led_g.json?auth=" + url.QueryEscape("a/b+c")
	if u != want {
		t.Errorf("endpoint = %q, want %q", u, want)
	}
}

// signedUpThenRevoked returns a client whose id token the database has just
// rejected with a 401.
func signedUpThenRevoked(t *testing.T, f *fakeDB) *Client {
	t.Helper()
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	if err := c.SignUp(ctx); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	f.rotate("rotated")
	if _, err := c.GetBool(ctx, "actuador/led_g"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("GetBool err = %v, want ErrUnauthorized", err)
	}
	return c
}

func TestRejectedRefreshSignsUpAgain(t *testing.T) {
	f := newFakeDB()
	f.data["actuador/led_g"] = "true"
	c := signedUpThenRevoked(t, f)
	f.setRefreshStatus(http.StatusBadRequest)

	if !c.Ready() {
		t.Fatal("Ready should fall back to sign up when the refresh token is rejected")
	}
	if signups, refresh := f.counts(); signups != 2 || refresh != 1 {
		t.Errorf("signups = %d, refresh = %d, want 2 and 1", signups, refresh)
	}
	if v, err := c.GetBool(context.Background(), "actuador/led_g"); err != nil || !v {
		t.Errorf("GetBool after new sign up = %v, %v", v, err)
	}
}

func TestAuthAttemptsAreRateLimited(t *testing.T) {
	f := newFakeDB()
	c := signedUpThenRevoked(t, f)
	c.auth = rate.NewLimiter(rate.Every(time.Hour), 1)
	f.setRefreshStatus(http.StatusBadRequest)
	f.setFailAuth(true)

	ready := 0
	for i := 0; i < 50; i++ {
		if c.Ready() {
			ready++
		}
	}
	if ready != 0 {
		t.Errorf("ready %d times with auth failing", ready)
	}
	if signups, refresh := f.counts(); signups != 2 || refresh != 1 {
		t.Errorf("signups = %d, refresh = %d, want 2 and 1", signups, refresh)
	}

	// once the limiter allows it the node recovers on its own
	f.setFailAuth(false)
	c.auth = rate.NewLimiter(rate.Inf, 1)
	if !c.Ready() {
		t.Fatal("not ready after auth recovered")
	}
	if signups, refresh := f.counts(); signups != 3 || refresh != 1 {
		t.Errorf("signups = %d, refresh = %d, want 3 and 1", signups, refresh)
	}
}

func TestRefreshServerErrorKeepsSession(t *testing.T) {
	f := newFakeDB()
	c := signedUpThenRevoked(t, f)
	f.setRefreshStatus(http.StatusServiceUnavailable)

	if c.Ready() {
		t.Fatal("Ready with failing refresh and no id token")
	}
	if signups, _ := f.counts(); signups != 1 {
		t.Errorf("signups = %d, a server error should not trigger a new sign up", signups)
	}
	c.mu.Lock()
	refresh := c.tok.refresh
	c.mu.Unlock()
	if refresh != "ref" {
		t.Errorf("refresh token = %q, want it kept", refresh)
	}
}

func TestWithAuthEvery(t *testing.T) {
	if _, err := New("db.example", "key", WithAuthEvery(0)); err == nil {
		t.Error("expected error for zero interval")
	}
	c, err := New("db.example", "key", WithAuthEvery(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.auth.Limit(); got != rate.Every(time.Minute) {
		t.Errorf("limit = %v", got)
	}
}
