// Package fabric implements the REST endpoint client used for every remote
// call: bearer authentication, long-running-operation polling, declared
// retry policies, request pacing, and call metrics.
package fabric

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fabworks/fabdeploy/faults"
)

// TokenProvider supplies bearer tokens for the API audience. Implementations
// wrap whatever credential the caller brings (azidentity, CI-injected
// secrets, a static token); the client never sees the credential itself.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Refresher is implemented by providers that can drop cached state when the
// service rejects a token as expired mid-run.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StaticTokenProvider returns a fixed token. Test and CI use.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", faults.Newf(faults.AuthError, "static token is empty")
	}
	return string(s), nil
}

// Identity is what the bearer token says about who is deploying.
type Identity struct {
	UPN      string
	AppID    string
	ObjectID string
	Expiry   time.Time
}

// String renders the identity the way progress output prints it.
func (id Identity) String() string {
	if id.UPN != "" {
		return "user " + id.UPN
	}
	if id.AppID != "" {
		return "application " + id.AppID
	}
	if id.ObjectID != "" {
		return "principal " + id.ObjectID
	}
	return "unknown principal"
}

// InspectToken decodes the token claims without verifying the signature.
// The service verifies; the client only needs expiry and identity.
func InspectToken(token string) (Identity, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Identity{}, faults.New(faults.AuthError, "decoding bearer token claims", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, faults.Newf(faults.AuthError, "bearer token carries no claims")
	}

	var id Identity
	if upn, ok := claims["upn"].(string); ok {
		id.UPN = upn
	}
	if appID, ok := claims["appid"].(string); ok {
		id.AppID = appID
	}
	if oid, ok := claims["oid"].(string); ok {
		id.ObjectID = oid
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.Expiry = exp.Time
	}
	return id, nil
}

// expirySlack refreshes tokens slightly before the exp claim passes so a
// token never dies mid long-running operation.
const expirySlack = 5 * time.Minute

// CachingTokenProvider caches the underlying provider's token until close to
// expiry. Refresh drops the cache, forcing a fresh fetch on the next call.
type CachingTokenProvider struct {
	inner TokenProvider
	now   func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewCachingTokenProvider(inner TokenProvider) *CachingTokenProvider {
	return &CachingTokenProvider{inner: inner, now: time.Now}
}

func (c *CachingTokenProvider) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expiry.IsZero() || c.now().Before(c.expiry.Add(-expirySlack))) {
		return c.token, nil
	}

	token, err := c.inner.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiry = time.Time{}
	if id, err := InspectToken(token); err == nil {
		c.expiry = id.Expiry
	}
	return token, nil
}

func (c *CachingTokenProvider) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
	if r, ok := c.inner.(Refresher); ok {
		return r.Refresh(ctx)
	}
	return nil
}

var _ TokenProvider = (*CachingTokenProvider)(nil)
var _ Refresher = (*CachingTokenProvider)(nil)
