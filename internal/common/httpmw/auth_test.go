package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authedRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seenUser string
	router := gin.New()
	router.Use(Auth(testSecret))
	router.GET("/whoami", func(c *gin.Context) {
		seenUser = UserID(c)
		c.Status(http.StatusOK)
	})
	return router, &seenUser
}

func TestAuthAcceptsValidToken(t *testing.T) {
	router, seenUser := authedRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "learner-1", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *seenUser != "learner-1" {
		t.Fatalf("user id = %q, want learner-1", *seenUser)
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	router, seenUser := authedRouter()

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", "learner-1", time.Now().Add(time.Hour))},
		{"expired", "Bearer " + signToken(t, testSecret, "learner-1", time.Now().Add(-time.Hour))},
		{"no subject", "Bearer " + signToken(t, testSecret, "", time.Now().Add(time.Hour))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			*seenUser = ""
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if *seenUser != "" {
				t.Fatalf("handler ran with user %q", *seenUser)
			}
		})
	}
}
