package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
	"github.com/fonsecaaso/linkpulse/go-server/internal/token"
)

func authRouter(t *testing.T, mw gin.HandlerFunc) *gin.Engine {
	setupTest(t)

	router := gin.New()
	router.Use(RequestID(), mw)
	router.GET("/whoami", func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			c.JSON(http.StatusOK, gin.H{"anonymous": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID.String(), "role": p.Role.String()})
	})
	return router
}

func withBearer(path, tok string) *http.Request {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req
}

func TestRequireAuth(t *testing.T) {
	tokens := token.NewManager("test-secret", time.Hour)
	router := authRouter(t, RequireAuth(tokens))
	userID := uuid.New()
	tok, err := tokens.GenerateToken(userID.String(), model.RoleAdmin)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		token  string
		status int
		body   string
	}{
		{"valid token", tok, http.StatusOK, userID.String()},
		{"missing token", "", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"garbage token", "not.a.jwt", http.StatusUnauthorized, "INVALID_TOKEN"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, withBearer("/whoami", tc.token))

			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	tokens := token.NewManager("test-secret", time.Nanosecond)
	tok, err := tokens.GenerateToken(uuid.NewString(), model.RoleUser)
	require.NoError(t, err)
	time.Sleep(time.Second)

	w := httptest.NewRecorder()
	authRouter(t, RequireAuth(tokens)).ServeHTTP(w, withBearer("/whoami", tok))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth(t *testing.T) {
	tokens := token.NewManager("test-secret", time.Hour)
	router := authRouter(t, OptionalAuth(tokens))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withBearer("/whoami", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anonymous")

	tok, err := tokens.GenerateToken(uuid.NewString(), model.RoleUser)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, withBearer("/whoami", tok))
	assert.Contains(t, w.Body.String(), `"role":"user"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, withBearer("/whoami", "tampered"))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a bad token is not silently downgraded")
}

func TestRequestID(t *testing.T) {
	setupTest(t)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	w := get(router, "/id")
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req, _ := http.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", w.Body.String())
}

func TestRecovery(t *testing.T) {
	setupTest(t)

	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := get(router, "/panic")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, w.Body.String(), w.Header().Get(RequestIDHeader))
}
