package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

const ownerIDKey = "owner_id"

// Auth accepts HS256 bearer tokens and uses the subject as the owner id.
func Auth(secret, issuer string, log logger.Logger) gin.HandlerFunc {
	key := []byte(secret)
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	log = log.Named("auth")

	return func(c *gin.Context) {
		raw, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		var claims jwt.RegisteredClaims
		_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err == nil && claims.Subject == "" {
			err = errors.New("token has no subject")
		}
		if err != nil {
			logger.FromContext(c.Request.Context(), log).Debug("Token rejected", logger.Error(err))
			abort(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set(ownerIDKey, claims.Subject)
		c.Request = c.Request.WithContext(logger.WithOwnerID(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// OwnerID returns the authenticated owner, or "" outside Auth.
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerIDKey)
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
