// Package polling is the HTTP fallback transport for the squad coordinator.
// Each poll is a plain request/response against the REST API; a failed poll
// is logged and retried on the next tick.
package polling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/staryskies/explo/pkg/logger"
	"github.com/staryskies/explo/wire"
)

// StatusError is an HTTP-level failure carrying the response status so
// callers can map it onto their error taxonomy.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: status %d: %s", e.StatusCode, e.Body)
}

// Channel issues REST calls and runs per-scope polling loops.
type Channel struct {
	serverURL  string
	httpClient *http.Client
	token      func() string

	mu    sync.Mutex
	stops map[string]chan struct{}
}

// NewChannel creates a polling channel. token is consulted on every request
// so refreshed credentials take effect without reconstruction.
func NewChannel(serverURL string, token func() string) *Channel {
	return &Channel{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		token:      token,
		stops:      make(map[string]chan struct{}),
	}
}

// StartMessagePolling polls a message scope at the given interval. since is
// consulted each tick so the watermark resumes from the last processed
// item. Repeated polls with an unchanged watermark are idempotent.
func (p *Channel) StartMessagePolling(scope wire.Scope, squadID string, interval time.Duration, since func() int64, onResult func([]wire.Message), onError func(error)) {
	key := "messages:" + string(scope)
	p.startLoop(key, interval, func() {
		messages, err := p.PollMessages(scope, squadID, since(), 0)
		if err != nil {
			logger.Debugf("message poll failed (%s): %v", scope, err)
			if onError != nil {
				onError(err)
			}
			return
		}
		if len(messages) > 0 {
			onResult(messages)
		}
	})
}

// StartSquadPolling polls the full squad snapshot, which is coarser than
// message polling and carries members plus readiness.
func (p *Channel) StartSquadPolling(squadID string, interval time.Duration, onResult func(wire.Squad), onError func(error)) {
	p.startLoop("squad", interval, func() {
		squad, err := p.GetSquad(squadID)
		if err != nil {
			logger.Debugf("squad poll failed (%s): %v", squadID, err)
			if onError != nil {
				onError(err)
			}
			return
		}
		onResult(squad)
	})
}

func (p *Channel) startLoop(key string, interval time.Duration, tick func()) {
	p.mu.Lock()
	if stop, ok := p.stops[key]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	p.stops[key] = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// First poll fires immediately so fallback catches up without
		// waiting a full interval.
		tick()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

// StopMessagePolling stops the polling loop for one message scope.
func (p *Channel) StopMessagePolling(scope wire.Scope) {
	p.stop("messages:" + string(scope))
}

// StopSquadPolling stops the squad snapshot loop.
func (p *Channel) StopSquadPolling() {
	p.stop("squad")
}

func (p *Channel) stop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stop, ok := p.stops[key]; ok {
		close(stop)
		delete(p.stops, key)
	}
}

// StopAll stops every polling loop.
func (p *Channel) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, stop := range p.stops {
		close(stop)
		delete(p.stops, key)
	}
}

// CreateSquad requests a new squad.
func (p *Channel) CreateSquad() (wire.Squad, error) {
	body, err := p.doRequest("POST", "/v1/squads", nil)
	if err != nil {
		return wire.Squad{}, err
	}
	return decodeSquad(body)
}

// JoinSquad joins a squad by code.
func (p *Channel) JoinSquad(joinCode string) (wire.Squad, error) {
	payload, _ := json.Marshal(map[string]string{"joinCode": joinCode})
	body, err := p.doRequest("POST", "/v1/squads/join", payload)
	if err != nil {
		return wire.Squad{}, err
	}
	return decodeSquad(body)
}

// LeaveSquad leaves the current squad. Leaving with no squad is a server
// no-op.
func (p *Channel) LeaveSquad() error {
	_, err := p.doRequest("POST", "/v1/squads/leave", nil)
	return err
}

// GetSquad fetches a squad snapshot.
func (p *Channel) GetSquad(squadID string) (wire.Squad, error) {
	body, err := p.doRequest("GET", "/v1/squads/"+url.PathEscape(squadID), nil)
	if err != nil {
		return wire.Squad{}, err
	}
	return decodeSquad(body)
}

// PollMessages fetches messages in a scope after the seq watermark.
func (p *Channel) PollMessages(scope wire.Scope, squadID string, since int64, limit int) ([]wire.Message, error) {
	values := url.Values{}
	values.Set("scope", string(scope))
	if squadID != "" {
		values.Set("squadId", squadID)
	}
	values.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}

	body, err := p.doRequest("GET", "/v1/messages?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var page wire.MessagePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parse messages response: %w", err)
	}
	return page.Messages, nil
}

// PostMessage delivers a message over REST and returns the stored copy with
// the server-assigned seq.
func (p *Channel) PostMessage(out wire.OutboundMessage) (wire.Message, error) {
	payload, err := json.Marshal(out)
	if err != nil {
		return wire.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	body, err := p.doRequest("POST", "/v1/messages", payload)
	if err != nil {
		return wire.Message{}, err
	}

	var resp struct {
		Message wire.Message `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return wire.Message{}, fmt.Errorf("parse message response: %w", err)
	}
	return resp.Message, nil
}

// PostGameState delivers a game-state update over REST.
func (p *Channel) PostGameState(squadID string, update wire.GameStateUpdate) error {
	payload, err := json.Marshal(map[string]any{"update": update})
	if err != nil {
		return fmt.Errorf("marshal game state: %w", err)
	}
	_, err = p.doRequest("POST", "/v1/squads/"+url.PathEscape(squadID)+"/state", payload)
	return err
}

func decodeSquad(body []byte) (wire.Squad, error) {
	var resp struct {
		Squad wire.Squad `json:"squad"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return wire.Squad{}, fmt.Errorf("parse squad response: %w", err)
	}
	if resp.Squad.ID == "" {
		return wire.Squad{}, fmt.Errorf("squad response missing squad")
	}
	return resp.Squad, nil
}

func (p *Channel) doRequest(method, path string, body []byte) ([]byte, error) {
	if p.serverURL == "" {
		return nil, fmt.Errorf("server URL not set")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, p.serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	if token := p.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
