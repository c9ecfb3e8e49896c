package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"storefront/internal/entity"
)

// ContextKey is where the validated token is stored on the echo context.
const ContextKey = "user"

var ErrNoSession = errors.New("no session")

// Claims are issued by the identity provider. Role is informational only;
// authorisation uses the role stored with the account.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the account the claims describe.
func (c *Claims) Identity() entity.User {
	return entity.User{ID: c.UserID, Email: c.Email, Name: c.Name, Role: entity.Role(c.Role)}
}

// Issue signs a session token for user.
func Issue(secret string, user *entity.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tkn.SignedString([]byte(secret))
}

// Middleware rejects requests without a valid bearer token.
func Middleware(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    ContextKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(401, map[string]string{"error": "Unauthorized"})
		},
	})
}

// FromContext returns the claims of the validated token, if any.
func FromContext(c echo.Context) (*Claims, error) {
	token, ok := c.Get(ContextKey).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return nil, ErrNoSession
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrNoSession
	}
	return claims, nil
}
