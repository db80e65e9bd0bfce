package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"crossbridge/types"

	"github.com/golang-jwt/jwt"
)

const CallerHeader = "X-Caller-Address"

// Authenticator resolves the caller of a mutating request. With a secret the
// caller is the "sub" claim of an HS512 bearer token; without one it is taken
// from the X-Caller-Address header.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{now: time.Now}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

// Mint signs a caller token for subject valid for ttl.
func (a *Authenticator) Mint(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("no jwt secret configured")
	}
	now := a.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("get signing string: %w", err)
	}
	return token, nil
}

func (a *Authenticator) parse(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS512 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", types.WrapError(types.KindUnauthorized, err, "token is not valid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", types.NewError(types.KindUnauthorized, "unexpected token claims")
	}
	if exp, ok := claims["exp"].(float64); ok && int64(exp) < a.now().Unix() {
		return "", types.NewError(types.KindUnauthorized, "token expired")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", types.NewError(types.KindUnauthorized, "token has no subject")
	}
	return sub, nil
}

// Caller returns the address acting in r.
func (a *Authenticator) Caller(r *http.Request) (string, error) {
	if len(a.secret) > 0 {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return "", types.NewError(types.KindUnauthorized, "bearer token required")
		}
		return a.parse(strings.TrimSpace(raw))
	}
	caller := strings.TrimSpace(r.Header.Get(CallerHeader))
	if caller == "" {
		return "", types.NewError(types.KindUnauthorized, "%s header required", CallerHeader)
	}
	return caller, nil
}
