package afip

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Document type codes for a Factura C issuer.
const (
	DocTipoDNI  = 96
	DocTipoCUIT = 80
	// DocNroConsumidorFinal is used when the buyer has no tax id.
	DocNroConsumidorFinal = 0
)

// AuthSession is a WSAA access ticket. It is owned by the Client and
// refreshed lazily on expiry; it is never read from ambient process state.
type AuthSession struct {
	Token  string
	Sign   string
	Expiry time.Time
}

// Valid reports whether the session can still be used, with a safety margin
// so a ticket does not expire mid-request.
func (s *AuthSession) Valid() bool {
	return s != nil && time.Now().Add(2*time.Minute).Before(s.Expiry)
}

// TokenProvider obtains WSAA access tickets. CMS signing and the login SOAP
// exchange live behind this interface; they are not part of this module.
type TokenProvider interface {
	Login(ctx context.Context) (*AuthSession, error)
}

// Item is a document line sent to the authority.
type Item struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// AuthorizationRequest describes one document to authorize.
type AuthorizationRequest struct {
	PointOfSale     int
	ComprobanteTipo int
	DocTipo         int
	DocNro          int64
	Items           []Item
	Total           decimal.Decimal
	// Associated original document, required for credit notes.
	LinkedComprobanteTipo int
	LinkedPointOfSale     int
	LinkedDocumentNumber  int64
}

// Authorization is the authority's answer for one document.
type Authorization struct {
	DocumentNumber    int64
	AuthorizationCode string
	ExpiryDate        time.Time
	IssuedDate        time.Time
}

type session struct {
	mu      sync.Mutex
	current *AuthSession
}

// get returns a valid session, logging in through the provider when the
// cached ticket is missing or expired.
func (s *session) get(ctx context.Context, provider TokenProvider) (*AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Valid() {
		return s.current, nil
	}

	fresh, err := provider.Login(ctx)
	if err != nil {
		return nil, err
	}
	s.current = fresh
	return fresh, nil
}
