package squad

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Identity describes the authenticated account.
type Identity struct {
	ID          string
	DisplayName string
}

// AuthProvider supplies the bearer token and identity for both transports.
// Token is consulted on every request so a refreshed session takes effect
// without reconnecting.
//
// AddListener registers a callback fired on auth-state transitions. The
// coordinator uses it to tear itself down when credentials go away.
type AuthProvider interface {
	Token() string
	CurrentUser() Identity
	AddListener(fn func(authenticated bool))
}

// Authenticator authenticates against the account endpoints and serves as
// an AuthProvider afterwards.
type Authenticator struct {
	serverURL  string
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	identity  Identity
	listeners []func(authenticated bool)
}

// NewAuthenticator creates an authenticator for the given server.
func NewAuthenticator(serverURL string) *Authenticator {
	return &Authenticator{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns the current bearer token, or "" before authentication.
func (a *Authenticator) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// CurrentUser returns the authenticated identity.
func (a *Authenticator) CurrentUser() Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// AddListener registers a callback fired after every auth-state change.
func (a *Authenticator) AddListener(fn func(authenticated bool)) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *Authenticator) notify(authenticated bool) {
	a.mu.Lock()
	listeners := make([]func(bool), len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(authenticated)
	}
}

// SetToken installs an externally obtained token and identity, for callers
// that persist sessions across restarts. An empty token counts as a
// logout.
func (a *Authenticator) SetToken(token string, identity Identity) {
	a.mu.Lock()
	a.token = token
	a.identity = identity
	a.mu.Unlock()
	a.notify(token != "")
}

// Logout discards the session and notifies listeners.
func (a *Authenticator) Logout() {
	a.SetToken("", Identity{})
}

// Guest creates a throwaway guest account.
func (a *Authenticator) Guest(displayName string) (Identity, error) {
	return a.authenticate("/v1/auth/guest", map[string]string{
		"displayName": displayName,
	})
}

// Register creates a persistent account. The display name doubles as the
// login name.
func (a *Authenticator) Register(displayName, password string) (Identity, error) {
	return a.authenticate("/v1/auth/register", map[string]string{
		"displayName": displayName,
		"password":    password,
	})
}

// Login authenticates an existing account.
func (a *Authenticator) Login(displayName, password string) (Identity, error) {
	return a.authenticate("/v1/auth/login", map[string]string{
		"displayName": displayName,
		"password":    password,
	})
}

func (a *Authenticator) authenticate(path string, reqBody map[string]string) (Identity, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Identity{}, fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequest("POST", a.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Identity{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("auth failed: status %d: %s", resp.StatusCode, respBody)
	}

	var decoded struct {
		Token string `json:"token"`
		ID    string `json:"id"`
		Name  string `json:"displayName"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Identity{}, fmt.Errorf("parse auth response: %w", err)
	}
	if decoded.Token == "" {
		return Identity{}, fmt.Errorf("auth response missing token")
	}

	identity := Identity{ID: decoded.ID, DisplayName: decoded.Name}
	a.mu.Lock()
	a.token = decoded.Token
	a.identity = identity
	a.mu.Unlock()
	a.notify(true)
	return identity, nil
}
