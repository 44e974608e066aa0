package gotrue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
)

// accessClaims are the access-token claims the client relies on.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseAccessToken reads sub, email and exp from the access token. With a JWT secret the
// HS256 signature is verified; without one the claims are decoded only.
func (c *Client) parseAccessToken(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	if c.cfg.JWTSecret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("decode access token: %w", err)
		}
		return claims, nil
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(c.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	return claims, nil
}

// sessionFrom converts a token response into a Session. Claims win over the response's
// user object; the response's expiry fields are the fallback for exp.
func (c *Client) sessionFrom(resp sessionResponse) (domainauth.Session, error) {
	if resp.AccessToken == "" {
		return domainauth.Session{}, errors.New("token response without access token")
	}
	claims, err := c.parseAccessToken(resp.AccessToken)
	if err != nil {
		return domainauth.Session{}, err
	}

	sess := domainauth.Session{
		UserID:       claims.Subject,
		Email:        claims.Email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if resp.User != nil {
		if sess.UserID == "" {
			sess.UserID = resp.User.ID
		}
		if sess.Email == "" {
			sess.Email = resp.User.Email
		}
	}

	switch {
	case claims.ExpiresAt != nil:
		sess.ExpiresAt = claims.ExpiresAt.Time
	case resp.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		sess.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if sess.UserID == "" {
		return domainauth.Session{}, errors.New("access token has no subject")
	}
	return sess, nil
}

// refresher is the oauth2.TokenSource behind the client's ReuseTokenSource. It exchanges
// the refresh token, persists the new session and announces TOKEN_REFRESHED.
type refresher struct {
	client *Client
	ctx    context.Context //nolint:containedctx // set per call under Client.mu
	token  string
	last   *domainauth.Session
}

func (r *refresher) Token() (*oauth2.Token, error) {
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var resp sessionResponse
	err := r.client.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", refreshRequest{RefreshToken: r.token}, &resp)
	if err != nil {
		return nil, err
	}
	sess, err := r.client.sessionFrom(resp)
	if err != nil {
		return nil, err
	}
	if err := r.client.tokens.Save(ctx, r.client.browserID, sess); err != nil {
		return nil, fmt.Errorf("persist refreshed session: %w", err)
	}
	r.token = sess.RefreshToken
	r.last = &sess
	r.client.emit(domainauth.AuthEvent{Type: domainauth.EventTokenRefreshed, Session: &sess})
	return oauthToken(sess), nil
}

func oauthToken(sess domainauth.Session) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  sess.AccessToken,
		TokenType:    "bearer",
		RefreshToken: sess.RefreshToken,
		Expiry:       sess.ExpiresAt,
	}
}

// refresh returns a session whose access token is valid for at least the leeway. The
// token source is rebuilt whenever the persisted session changed underneath it.
func (c *Client) refresh(ctx context.Context, sess domainauth.Session) (*domainauth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == nil || c.sourceFor != sess.AccessToken {
		c.refresher = &refresher{client: c, token: sess.RefreshToken}
		c.source = oauth2.ReuseTokenSourceWithExpiry(oauthToken(sess), c.refresher, c.cfg.RefreshLeeway)
		c.sourceFor = sess.AccessToken
	}

	c.refresher.ctx = ctx
	tok, err := c.source.Token()
	c.refresher.ctx = nil
	if err != nil {
		var ae *domainauth.AuthError
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	if last := c.refresher.last; last != nil && last.AccessToken == tok.AccessToken {
		c.sourceFor = last.AccessToken
		cp := *last
		return &cp, nil
	}
	return &sess, nil
}
