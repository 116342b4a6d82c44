// Package auth authenticates gateway callers with HS256 bearer tokens whose
// subject is the user id.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/credits-checkout/internal/payment"
)

// ErrTokenExpired marks tokens rejected only because they expired.
var ErrTokenExpired = &payment.Error{Code: payment.CodeTokenExpired, Message: "token expired"}

// TokenValidator checks issuer, audience, lifetime and algorithm of a token.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Validate ensures tok satisfies the validator at time now.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	if algorithm == "" {
		return errors.New("auth: token missing algorithm")
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.SubjectKey),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	return jwt.Validate(tok, options...)
}

// Authenticator issues and verifies bearer tokens.
type Authenticator struct {
	secret    []byte
	validator TokenValidator
	ttl       time.Duration
	now       func() time.Time
}

// Config configures an Authenticator.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewAuthenticator returns an HS256 Authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	a := &Authenticator{
		secret: []byte(cfg.Secret),
		validator: TokenValidator{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			ClockSkew: cfg.ClockSkew,
			Algorithm: jwa.HS256,
		},
		ttl: cfg.TTL,
		now: cfg.Now,
	}
	if a.ttl <= 0 {
		a.ttl = time.Hour
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Issue signs a token for userID.
func (a *Authenticator) Issue(userID string) (string, error) {
	now := a.now()
	b := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		NotBefore(now.Add(-a.validator.ClockSkew)).
		Expiration(now.Add(a.ttl))
	if a.validator.Issuer != "" {
		b = b.Issuer(a.validator.Issuer)
	}
	if a.validator.Audience != "" {
		b = b.Audience([]string{a.validator.Audience})
	}
	tok, err := b.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// Parse verifies token and returns its subject.
func (a *Authenticator) Parse(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", payment.ErrUnauthorized.WithMessage("missing token")
	}
	algorithm, err := tokenAlgorithm(trimmed)
	if err != nil {
		return "", payment.ErrUnauthorized.WithMessage("invalid token").Wrap(err)
	}
	if algorithm != a.validator.Algorithm {
		return "", payment.ErrUnauthorized.WithMessage("invalid token").Wrap(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, a.secret), jwt.WithValidate(false))
	if err != nil {
		return "", payment.ErrUnauthorized.WithMessage("invalid token").Wrap(err)
	}
	if err := a.validator.Validate(parsed, algorithm, a.now()); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return "", ErrTokenExpired.Wrap(err)
		}
		return "", payment.ErrUnauthorized.WithMessage("invalid token").Wrap(err)
	}
	return parsed.Subject(), nil
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	if alg == jwa.NoSignature {
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}
