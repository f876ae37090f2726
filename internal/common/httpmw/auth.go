package httpmw

import (
	"context"
	"strings"

	"skillsnap/pkg/errors"
	"skillsnap/pkg/utils/contextkey"
	"skillsnap/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// GinUserKey is the gin context key controllers read the learner id from.
const GinUserKey = "user_id"

// Auth validates the bearer token and stores the learner id on the request
// context. Tokens are HS256 with the subject claim carrying the learner id.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}

		userID, err := parseSubject(token, secret)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}

		c.Set(GinUserKey, userID)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, userID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseSubject(tokenString, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.Unauthorized).WithMessage("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", errors.Wrapf(err, errors.Unauthorized, "parse token failed")
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New(errors.Unauthorized).WithMessage("token missing subject")
	}
	return claims.Subject, nil
}

// UserID returns the authenticated learner id from the gin context.
func UserID(c *gin.Context) string {
	v, ok := c.Get(GinUserKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
