package attempt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
)

// CookieName carries the signed attempt token.
const CookieName = "examgate_attempt"

const tokenIssuer = "examgate"

// Claims binds a browser tab to its attempt.
type Claims struct {
	AttemptID string `json:"attempt_id"`
	jwt.RegisteredClaims
}

// Tokens signs and validates attempt tokens with HS256.
type Tokens struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewTokens(signingKey string, ttl time.Duration) (*Tokens, error) {
	if signingKey == "" {
		return nil, errors.New("attempt signing key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("attempt token ttl must be positive")
	}
	return &Tokens{signingKey: []byte(signingKey), ttl: ttl, now: time.Now}, nil
}

// TTL is how long an issued token stays valid.
func (t *Tokens) TTL() time.Duration { return t.ttl }

func (t *Tokens) Issue(attemptID domain.AttemptID) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AttemptID: attemptID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign attempt token")
	}
	return signed, nil
}

// Parse validates a token and returns the attempt it names.
func (t *Tokens) Parse(tokenString string) (domain.AttemptID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.signingKey, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.AttemptID{}, dErrors.New(dErrors.CodeUnauthorized, "attempt token has expired")
		}
		return domain.AttemptID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid attempt token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.AttemptID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid attempt token")
	}
	attemptID, err := domain.ParseAttemptID(claims.AttemptID)
	if err != nil {
		return domain.AttemptID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid attempt token")
	}
	return attemptID, nil
}
