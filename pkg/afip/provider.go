package afip

import (
	"context"

	"github.com/mlorenzo/facturable-api/pkg/apperror"
)

// StaticTokenProvider serves a pre-obtained WSAA ticket, typically produced
// out of band with the authority's login tooling and injected through the
// environment. Login fails once the ticket expires; there is no way to mint
// a fresh one from here.
type StaticTokenProvider struct {
	session AuthSession
}

// NewStaticTokenProvider creates a provider around a fixed ticket
func NewStaticTokenProvider(session AuthSession) *StaticTokenProvider {
	return &StaticTokenProvider{session: session}
}

// Login returns the configured ticket while it remains valid
func (p *StaticTokenProvider) Login(ctx context.Context) (*AuthSession, error) {
	s := p.session
	if !s.Valid() {
		return nil, apperror.NewUnauthorizedError("WSAA access ticket has expired; obtain a new one and restart")
	}
	return &s, nil
}
