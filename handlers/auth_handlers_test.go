package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tinyhome/api/models"
	"tinyhome/api/store"
	"tinyhome/api/utils"
)

type fakeUserRepository struct {
	users map[string]*models.User
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]*models.User)}
}

func (r *fakeUserRepository) CreateUser(_ context.Context, email string, hashedPassword []byte) (*models.User, error) {
	if _, ok := r.users[email]; ok {
		return nil, fmt.Errorf("user with email '%s': %w", email, store.ErrUserExists)
	}
	u := &models.User{ID: len(r.users) + 1, Email: email, HashedPassword: hashedPassword}
	r.users[email] = u
	return u, nil
}

func (r *fakeUserRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := r.users[email]
	if !ok {
		return nil, fmt.Errorf("user with email '%s': %w", email, store.ErrUserNotFound)
	}
	return u, nil
}

func setupAuthRouter(tokens *utils.TokenManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandlers(newFakeUserRepository(), tokens, zap.NewNop())

	router := gin.New()
	router.POST("/api/signup", h.Signup)
	router.POST("/api/login", h.Login)
	router.POST("/api/logout", h.Logout)
	return router
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSignupAndLogin(t *testing.T) {
	tokens := utils.NewTokenManager("test-secret")
	router := setupAuthRouter(tokens)
	creds := `{"email":"ops@tinyhome.test","password":"s3cure-pass"}`

	assert.Equal(t, http.StatusCreated, postJSON(router, "/api/signup", creds).Code)
	assert.Equal(t, http.StatusConflict, postJSON(router, "/api/signup", creds).Code)

	w := postJSON(router, "/api/login", creds)
	require.Equal(t, http.StatusOK, w.Code)

	var jwtCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == tokenCookie {
			jwtCookie = c
		}
	}
	require.NotNil(t, jwtCookie)
	assert.True(t, jwtCookie.HttpOnly)

	claims, err := tokens.ValidateJWT(jwtCookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "ops@tinyhome.test", claims.Email)
}

func TestSignup_Validation(t *testing.T) {
	router := setupAuthRouter(utils.NewTokenManager("test-secret"))

	assert.Equal(t, http.StatusBadRequest, postJSON(router, "/api/signup", `{"email":"not-an-email","password":"longenough"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(router, "/api/signup", `{"email":"ops@tinyhome.test","password":"short"}`).Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	router := setupAuthRouter(utils.NewTokenManager("test-secret"))
	require.Equal(t, http.StatusCreated,
		postJSON(router, "/api/signup", `{"email":"ops@tinyhome.test","password":"s3cure-pass"}`).Code)

	assert.Equal(t, http.StatusUnauthorized,
		postJSON(router, "/api/login", `{"email":"ops@tinyhome.test","password":"wrong-pass"}`).Code)
	assert.Equal(t, http.StatusUnauthorized,
		postJSON(router, "/api/login", `{"email":"nobody@tinyhome.test","password":"s3cure-pass"}`).Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	router := setupAuthRouter(utils.NewTokenManager("test-secret"))

	w := postJSON(router, "/api/logout", "")
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookie, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
}
