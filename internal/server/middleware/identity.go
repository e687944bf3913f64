package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

const identityKey = "identity"

// Claims carries the caller identity issued by the sign-in service.
type Claims struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() models.Identity {
	return models.Identity{UserID: c.UserID, Name: c.Name, Email: c.Email, IsAdmin: c.IsAdmin}
}

type IdentityConfig struct {
	Secret string
	Issuer string
	// AllowQueryToken accepts ?token= for clients that cannot set headers,
	// such as browser websockets and EventSource.
	AllowQueryToken bool
}

func IssueToken(conf IdentityConfig, id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  id.UserID,
		Name:    id.Name,
		Email:   id.Email,
		IsAdmin: id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    conf.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(conf.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(conf IdentityConfig, token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if conf.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(conf.Issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(conf.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no user id", models.ErrUnauthenticated)
	}
	return claims, nil
}

// Identity authenticates the bearer token and stores the caller on the
// echo context and in the request's log fields.
func Identity(conf IdentityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c, conf.AllowQueryToken)
			if token == "" {
				return fmt.Errorf("%w: missing bearer token", models.ErrUnauthenticated)
			}
			claims, err := ParseToken(conf, token)
			if err != nil {
				return err
			}

			id := claims.Identity()
			c.Set(identityKey, id)
			ctx := log.With(c.Request().Context(), "user_id", id.UserID, "is_admin", id.IsAdmin)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(c echo.Context, allowQuery bool) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if allowQuery {
		return c.QueryParam("token")
	}
	return ""
}

var errNoIdentity = errors.New("no identity on request")

func GetIdentity(c echo.Context) (models.Identity, error) {
	id, ok := c.Get(identityKey).(models.Identity)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: %w", models.ErrUnauthenticated, errNoIdentity)
	}
	return id, nil
}

func GetUserID(c echo.Context) string {
	id, _ := c.Get(identityKey).(models.Identity)
	return id.UserID
}
