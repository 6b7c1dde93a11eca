package toolauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpirySkew is the lookahead window (spec §4.4: "skew=30s") within
// which a cached token is treated as already expired, so a refresh is
// attempted before the credential is actually rejected by the tool's
// upstream API.
const DefaultExpirySkew = 30 * time.Second

// AuthRequiredError signals that a tool call cannot proceed without an
// external authorization step. It is not a run-fatal error: the engine's
// ToolPhase converts it into an Interrupt(tool_auth) outcome (spec §4.4
// step 4, §4.6.4).
type AuthRequiredError struct {
	AuthKey          string
	AuthorizationURL string
	Scopes           []string
	SchemeType       string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authorization required for %s", e.AuthKey)
}

// OAuth2Scheme is the per-tool OAuth2 endpoint configuration used by
// Runtime.EnsureToken. Scope and endpoint fields follow golang.org/x/oauth2's
// own Config shape; PKCE is enabled whenever UsePKCE is true.
type OAuth2Scheme struct {
	Name    string // scheme identifier, e.g. "oauth2:google"
	Config  oauth2.Config
	UsePKCE bool
}

// Runtime implements the token acquisition protocol (spec §4.4 steps 1-4)
// against a Store. It is the "handle to the auth runtime" exposed to tool
// executors via toolregistry.ExecContext.Auth.
type Runtime struct {
	store Store
	skew  time.Duration
}

// NewRuntime wraps store with the default expiry skew.
func NewRuntime(store Store) *Runtime {
	return &Runtime{store: store, skew: DefaultExpirySkew}
}

// WithSkew overrides the default near-expiry lookahead window.
func (r *Runtime) WithSkew(skew time.Duration) *Runtime {
	return &Runtime{store: r.store, skew: skew}
}

// EnsureToken implements spec §4.4's token acquisition protocol:
//
//  1. read tokens(authKey); if present and not near-expiry, return it.
//  2. if near-expiry and a refresh token exists, attempt one refresh;
//     success persists and returns it, failure falls through to step 3.
//  3. read authResponse(authKey); if present, perform the authorization-code
//     exchange (PKCE if configured), persist tokens, clear authResponse,
//     return it.
//  4. else build a fresh authorization URL (new CSRF state + PKCE verifier,
//     persisted under config.state) and fail with *AuthRequiredError.
func (r *Runtime) EnsureToken(ctx context.Context, authKey string, scheme OAuth2Scheme) (*ExchangedCredential, error) {
	if tok, err := r.store.GetTokens(ctx, authKey); err == nil {
		if !tok.nearExpiry(r.skew) {
			return tok, nil
		}
		if tok.RefreshToken != "" {
			if refreshed, err := r.refresh(ctx, authKey, scheme, tok); err == nil {
				return refreshed, nil
			}
			// Refresh failed: fall through to the authResponse/challenge path.
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("toolauth: ensure token: %w", err)
	}

	if resp, err := r.store.ConsumeAuthResponse(ctx, authKey); err == nil {
		return r.exchange(ctx, authKey, scheme, resp)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("toolauth: ensure token: %w", err)
	}

	return nil, r.challenge(ctx, authKey, scheme)
}

func (r *Runtime) refresh(ctx context.Context, authKey string, scheme OAuth2Scheme, tok *ExchangedCredential) (*ExchangedCredential, error) {
	src := scheme.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("toolauth: refresh %s: %w", authKey, err)
	}
	credential := &ExchangedCredential{
		AccessToken:  fresh.AccessToken,
		RefreshToken: firstNonEmpty(fresh.RefreshToken, tok.RefreshToken),
		TokenType:    fresh.TokenType,
		ExpiresAt:    fresh.Expiry,
	}
	if err := r.store.PutTokens(ctx, authKey, credential); err != nil {
		return nil, fmt.Errorf("toolauth: persist refreshed token %s: %w", authKey, err)
	}
	return credential, nil
}

func (r *Runtime) exchange(ctx context.Context, authKey string, scheme OAuth2Scheme, resp *AuthResponse) (*ExchangedCredential, error) {
	cfg, err := r.store.GetConfig(ctx, authKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("toolauth: exchange %s: load config: %w", authKey, err)
	}

	var opts []oauth2.AuthCodeOption
	if scheme.UsePKCE && cfg != nil && cfg.PKCEVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", cfg.PKCEVerifier))
	}

	code, err := authorizationCodeFromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("toolauth: exchange %s: %w", authKey, err)
	}

	token, err := scheme.Config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("toolauth: exchange %s: %w", authKey, err)
	}
	credential := &ExchangedCredential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}
	if err := r.store.PutTokens(ctx, authKey, credential); err != nil {
		return nil, fmt.Errorf("toolauth: persist exchanged token %s: %w", authKey, err)
	}
	return credential, nil
}

func (r *Runtime) challenge(ctx context.Context, authKey string, scheme OAuth2Scheme) error {
	csrfState, err := randomURLSafeString(32)
	if err != nil {
		return fmt.Errorf("toolauth: challenge %s: %w", authKey, err)
	}

	cfg := &CredentialConfig{Scheme: scheme.Name, CSRFState: csrfState}
	var opts []oauth2.AuthCodeOption
	if scheme.UsePKCE {
		verifier, err := randomURLSafeString(64)
		if err != nil {
			return fmt.Errorf("toolauth: challenge %s: %w", authKey, err)
		}
		cfg.PKCEVerifier = verifier
		challenge := pkceChallengeS256(verifier)
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if err := r.store.PutConfig(ctx, authKey, cfg); err != nil {
		return fmt.Errorf("toolauth: challenge %s: persist config: %w", authKey, err)
	}

	return &AuthRequiredError{
		AuthKey:          authKey,
		AuthorizationURL: scheme.Config.AuthCodeURL(csrfState, opts...),
		Scopes:           scheme.Config.Scopes,
		SchemeType:       scheme.Name,
	}
}

// HandleUnauthorized implements spec §4.4's 401 handling: a single refresh
// attempt, and if no refresh token is available (or the refresh itself
// fails), the cached tokens are cleared to force re-authorization on the
// next EnsureToken call.
func (r *Runtime) HandleUnauthorized(ctx context.Context, authKey string, scheme OAuth2Scheme) error {
	tok, err := r.store.GetTokens(ctx, authKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("toolauth: handle 401 %s: %w", authKey, err)
	}
	if tok.RefreshToken == "" {
		return r.store.ClearTokens(ctx, authKey)
	}
	if _, err := r.refresh(ctx, authKey, scheme, tok); err != nil {
		return r.store.ClearTokens(ctx, authKey)
	}
	return nil
}

func authorizationCodeFromResponse(resp *AuthResponse) (string, error) {
	parsed, err := url.Parse(resp.AuthResponseURI)
	if err != nil {
		return "", fmt.Errorf("parse auth response uri: %w", err)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		return "", errors.New("auth response uri has no code parameter")
	}
	return code, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func randomURLSafeString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
