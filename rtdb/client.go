// Package rtdb is a small client for a Firebase style realtime database REST
// API with anonymous sign-up authentication.
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultSignUpURL  = "https://identitytoolkit.googleapis.com/v1/accounts:signUp"
	defaultRefreshURL = "https://securetoken.googleapis.com/v1/token"

	requestTimeout = 15 * time.Second
	refreshMargin  = 5 * time.Minute
)

var (
	// ErrNoValue is returned when the key does not exist.
	ErrNoValue = errors.New("rtdb: no value at path")
	// ErrType is returned when the stored value has the wrong type.
	ErrType = errors.New("rtdb: unexpected value type")
	// ErrNotReady is returned when there is no valid session.
	ErrNotReady = errors.New("rtdb: session not ready")
	// ErrUnauthorized is returned when the database rejected the token.
	ErrUnauthorized = errors.New("rtdb: unauthorized")
	// ErrRejected is returned when the auth service refused the credentials.
	ErrRejected = errors.New("rtdb: credentials rejected")
)

type token struct {
	id      string
	refresh string
	expires time.Time
}

type Client struct {
	client *http.Client
	limit  *rate.Limiter // data requests
	auth   *rate.Limiter // sign-up and refresh attempts
	log    *zap.Logger
	now    func() time.Time

	dbURL      string
	apiKey     string
	signUpURL  string
	refreshURL string

	mu  sync.Mutex
	tok token
}

type Option func(c *Client) error

// New returns a client for the database at dbURL. Call SignUp before use, or
// let Ready sign up lazily.
func New(dbURL, apiKey string, opts ...Option) (*Client, error) {
	if dbURL == "" {
		return nil, errors.New("rtdb: database url is required")
	}
	if apiKey == "" {
		return nil, errors.New("rtdb: api key is required")
	}
	if !strings.Contains(dbURL, "://") {
		dbURL = "https://" + dbURL
	}
	c := &Client{
		client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limit:      rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		auth:       rate.NewLimiter(rate.Every(30*time.Second), 1),
		log:        zap.L(),
		now:        time.Now,
		dbURL:      strings.TrimRight(dbURL, "/"),
		apiKey:     apiKey,
		signUpURL:  defaultSignUpURL,
		refreshURL: defaultRefreshURL,
	}

	// apply the options
	for _, o := range opts {
		err := o(c)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("rtdb: nil http client")
		}
		c.client = hc
		return nil
	}
}

// WithLimiter replaces the data request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) error {
		c.limit = l
		return nil
	}
}

// WithAuthEvery limits how often Ready talks to the auth service.
func WithAuthEvery(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("rtdb: auth interval must be positive")
		}
		c.auth = rate.NewLimiter(rate.Every(d), 1)
		return nil
	}
}

// WithEndpoints overrides the sign-up and token refresh urls.
func WithEndpoints(signUp, refresh string) Option {
	return func(c *Client) error {
		c.signUpURL = signUp
		c.refreshURL = refresh
		return nil
	}
}

// Ready reports whether the session is authenticated. It refreshes a token
// that is about to expire and signs up again when there is no session or the
// refresh token was rejected. Auth requests are limited by the auth limiter;
// a token that has not expired yet still counts as ready in the meantime.
func (c *Client) Ready() bool {
	c.mu.Lock()
	tok := c.tok
	c.mu.Unlock()

	now := c.now()
	valid := tok.id != "" && now.Before(tok.expires)
	if valid && now.Add(refreshMargin).Before(tok.expires) {
		return true
	}
	if !c.auth.Allow() {
		return valid
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if tok.refresh != "" {
		err := c.Refresh(ctx)
		if err == nil {
			return true
		}
		c.log.Warn("token refresh failed", zap.Error(err))
		if !errors.Is(err, ErrRejected) {
			return valid
		}
		c.clear()
	}
	if err := c.SignUp(ctx); err != nil {
		c.log.Warn("sign up failed", zap.Error(err))
		return false
	}
	return true
}

type signUpResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type authError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp creates an anonymous user and stores its tokens.
func (c *Client) SignUp(ctx context.Context) error {
	body := strings.NewReader(`{"returnSecureToken":true}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.signUpURL+"?key="+url.QueryEscape(c.apiKey), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var out signUpResponse
	if err := c.doAuth(req, &out); err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	c.store(out.IDToken, out.RefreshToken, out.ExpiresIn)
	c.log.Info("signed up", zap.String("user", out.LocalID))
	return nil
}

// Refresh exchanges the refresh token for a new id token.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.tok.refresh
	c.mu.Unlock()
	if refresh == "" {
		return ErrNotReady
	}

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL+"?key="+url.QueryEscape(c.apiKey), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out refreshResponse
	if err := c.doAuth(req, &out); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	c.store(out.IDToken, out.RefreshToken, out.ExpiresIn)
	c.log.Debug("token refreshed")
	return nil
}

func (c *Client) doAuth(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		var ae authError
		if derr := json.NewDecoder(resp.Body).Decode(&ae); derr == nil && ae.Error.Message != "" {
			msg += ": " + ae.Error.Message
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %s", ErrRejected, msg)
		}
		return errors.New(msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) store(id, refresh, expiresIn string) {
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	c.mu.Lock()
	c.tok = token{id: id, refresh: refresh, expires: c.now().Add(time.Duration(secs) * time.Second)}
	c.mu.Unlock()
}

// dropID forgets the id token so the next Ready refreshes it.
func (c *Client) dropID() {
	c.mu.Lock()
	c.tok.id = ""
	c.mu.Unlock()
}

// clear forgets the whole session so the next Ready signs up again.
func (c *Client) clear() {
	c.mu.Lock()
	c.tok = token{}
	c.mu.Unlock()
}

func (c *Client) endpoint(path string) (string, error) {
	c.mu.Lock()
	id := c.tok.id
	c.mu.Unlock()
	if id == "" {
		return "", ErrNotReady
	}
	return c.dbURL + "/" + strings.Trim(path, "/") + ".json?auth=" + url.QueryEscape(id), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// apply the ratelimit
	if err := c.limit.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.dropID()
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var fe struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &fe) == nil && fe.Error != "" {
			return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, fe.Error)
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if v := bytes.TrimSpace(data); len(v) == 0 || string(v) == "null" {
		return nil, fmt.Errorf("%s: %w", path, ErrNoValue)
	}
	return data, nil
}

func (c *Client) put(ctx context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, path, bytes.NewReader(b))
	return err
}

func (c *Client) GetBool(ctx context.Context, path string) (bool, error) {
	data, err := c.get(ctx, path)
	if err != nil {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return false, fmt.Errorf("%s: %w: %s", path, ErrType, data)
	}
	return v, nil
}

// GetInt accepts any integral json number.
func (c *Client) GetInt(ctx context.Context, path string) (int, error) {
	data, err := c.get(ctx, path)
	if err != nil {
		return 0, err
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s: %w: %s", path, ErrType, data)
	}
	return int(f), nil
}

func (c *Client) SetString(ctx context.Context, path, v string) error {
	return c.put(ctx, path, v)
}

func (c *Client) SetFloat(ctx context.Context, path string, v float64) error {
	return c.put(ctx, path, v)
}
