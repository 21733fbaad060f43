package echoapi

import (
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

// appJWTConfig is the JWT auth middleware config; set by configureAuth.
var appJWTConfig middleware.JWTConfig

// Claims represents the authorization claims transmitted via a JWT.
// Identity lives with the host platform; the engine only reads the
// subject and the portal flags off the token.
type Claims struct {
	jwt.StandardClaims
	Username   string `json:"username,omitempty"`
	IsStudent  bool   `json:"is_student,omitempty"`  // -> STUDENT PORTAL
	IsLecturer bool   `json:"is_lecturer,omitempty"` // -> LECTURER PORTAL
}

func configureAuth(conf *core.Config) echo.MiddlewareFunc {
	appJWTConfig = middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    "userToken",
		Claims:        new(Claims),
	}
	return middleware.JWTWithConfig(appJWTConfig)
}

// NewClaims builds claims for a platform principal. Exposed for the admin
// app and for tests; token issuance normally belongs to the host platform.
func NewClaims(conf *core.Config, subject, username string, isStudent, isLecturer bool) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   subject,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username:   username,
		IsStudent:  isStudent,
		IsLecturer: isLecturer,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(appJWTConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(appJWTConfig.SigningKey.([]byte))
	if err != nil {
		return "", errors.New("signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(appJWTConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextActor(ctx echo.Context) core.Actor {
	var actor core.Actor
	if claims, err := getContextClaims(ctx); err == nil {
		actor.ID = claims.Subject
		actor.Username = claims.Username
	}
	return actor
}
