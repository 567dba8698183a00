package token

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ojbackend/pkg/errors"
)

const defaultTTL = 10 * time.Minute

// Claims binds an upload token to one submission and its creator.
type Claims struct {
	Creator string `json:"creator"`
	jwt.RegisteredClaims
}

// Authority issues and verifies single-submission upload tokens. A token
// is only valid for the submission it was issued for, and only within its
// TTL; the one-shot effect comes from the status transition the upload
// performs, not from the token itself.
type Authority struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Config defines configuration for the token authority.
type Config struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// NewAuthority creates a token authority.
func NewAuthority(cfg Config) (*Authority, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Authority{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source. Test hook.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

// Issue mints an upload token for the given submission on behalf of creator.
func (a *Authority) Issue(submissionID, creator string) (string, error) {
	if submissionID == "" {
		return "", errors.New(errors.TokenGenerationFailed).WithMessage("submissionID is required")
	}
	if creator == "" {
		return "", errors.New(errors.TokenGenerationFailed).WithMessage("creator is required")
	}

	issuedAt := a.now()
	claims := Claims{
		Creator: creator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   submissionID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrapf(err, errors.TokenGenerationFailed, "sign upload token failed")
	}
	return signed, nil
}

// Verify checks that raw is a valid token for submissionID and returns the
// creator it was issued to. Expired tokens are reported distinctly so the
// caller can surface a clearer error; every other failure mode collapses
// into a single invalid-token error.
func (a *Authority) Verify(submissionID, raw string) (string, error) {
	if submissionID == "" || raw == "" {
		return "", errors.New(errors.TokenInvalid)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.Wrapf(err, errors.TokenExpired, "upload token has expired")
		}
		return "", errors.Wrapf(err, errors.TokenInvalid, "upload token is invalid")
	}
	if !parsed.Valid || claims.Subject != submissionID || claims.Creator == "" {
		return "", errors.New(errors.TokenInvalid)
	}
	return claims.Creator, nil
}
