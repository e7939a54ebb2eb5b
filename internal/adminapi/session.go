package adminapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsContextKey = "session_claims"

// ErrInvalidSession rejects missing, expired, or tampered session cookies.
var ErrInvalidSession = errors.New("invalid session")

// sessionClaims is the JWT payload carried in the session cookie.
type sessionClaims struct {
	OperatorID int64  `json:"operator_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	jwt.RegisteredClaims
}

// sessionManager mints and validates HS256 session cookies.
type sessionManager struct {
	signingKey []byte
	issuer     string
	cookieName string
	lifetime   time.Duration
	nowFn      func() time.Time
}

func newSessionManager(signingKey []byte, issuer string, cookieName string, lifetime time.Duration) (*sessionManager, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	if cookieName == "" {
		return nil, errors.New("cookie name is required")
	}
	if lifetime <= 0 {
		lifetime = 12 * time.Hour
	}
	return &sessionManager{
		signingKey: signingKey,
		issuer:     issuer,
		cookieName: cookieName,
		lifetime:   lifetime,
		nowFn:      time.Now,
	}, nil
}

func (manager *sessionManager) mint(operatorID int64, email string, name string) (string, time.Time, error) {
	now := manager.nowFn().UTC()
	expires := now.Add(manager.lifetime)
	claims := sessionClaims{
		OperatorID: operatorID,
		Email:      email,
		Name:       name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    manager.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(manager.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (manager *sessionManager) validate(raw string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method", ErrInvalidSession)
		}
		return manager.signingKey, nil
	}, jwt.WithIssuer(manager.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// middleware authenticates the session cookie and stashes the claims.
func (manager *sessionManager) middleware() gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		raw, err := ginContext.Cookie(manager.cookieName)
		if err != nil {
			ginContext.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		claims, err := manager.validate(raw)
		if err != nil {
			ginContext.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
			return
		}
		ginContext.Set(claimsContextKey, claims)
		ginContext.Next()
	}
}

func (manager *sessionManager) setCookie(ginContext *gin.Context, value string, expires time.Time) {
	http.SetCookie(ginContext.Writer, &http.Cookie{
		Name:     manager.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (manager *sessionManager) clearCookie(ginContext *gin.Context) {
	http.SetCookie(ginContext.Writer, &http.Cookie{
		Name:     manager.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func getClaims(ginContext *gin.Context) *sessionClaims {
	value, ok := ginContext.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*sessionClaims)
	return claims
}
