package publisher

import (
	"context"
	"fmt"
	"sync"
)

// TokenSource resolves the access token for a profile. OAuth token storage
// lives outside the pipeline; implementations adapt it.
type TokenSource interface {
	AccessToken(ctx context.Context, profileID string) (string, error)
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func(ctx context.Context, profileID string) (string, error)

// AccessToken implements TokenSource.
func (f TokenFunc) AccessToken(ctx context.Context, profileID string) (string, error) {
	return f(ctx, profileID)
}

// StaticTokens is a fixed profile → token map.
type StaticTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
	// Fallback is returned for unknown profiles when non-empty.
	Fallback string
}

// NewStaticTokens creates a StaticTokens from m.
func NewStaticTokens(m map[string]string) *StaticTokens {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &StaticTokens{tokens: cp}
}

// Set stores the token for profileID.
func (s *StaticTokens) Set(profileID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	s.tokens[profileID] = token
}

// AccessToken implements TokenSource. Unknown profiles are a permanent
// error: retrying cannot produce a token.
func (s *StaticTokens) AccessToken(_ context.Context, profileID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tok, ok := s.tokens[profileID]; ok {
		return tok, nil
	}
	if s.Fallback != "" {
		return s.Fallback, nil
	}
	return "", Permanent(fmt.Errorf("no access token for profile %q", profileID))
}
