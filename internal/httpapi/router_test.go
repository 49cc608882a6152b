package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/meshchat-service/internal/auth"
	"github.com/meshchat/meshchat-service/internal/logger"
	"github.com/meshchat/meshchat-service/internal/orchestrator"
	"github.com/meshchat/meshchat-service/internal/repository"
	"github.com/meshchat/meshchat-service/internal/worker"
	"github.com/meshchat/meshchat-service/internal/workerpool"
)

// fakeValidator is a TokenValidator test double: any non-empty token
// authenticates as the same fixed user id.
type fakeValidator struct{ userID string }

func (f fakeValidator) ValidateToken(token string) (string, error) {
	return f.userID, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	chats := repository.NewChatRepository(db)
	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, t.TempDir())
	require.NoError(t, err)

	pool := workerpool.New(1, func() (*worker.Worker, error) {
		return worker.SpawnArgs("sh", []string{"-c", `read _l; printf '%s\n' '{"type":"eos"}'`}, nil)
	})
	orch := orchestrator.New(pool, messages, blobs, logger.New(logger.Config{Format: "text"}))

	authMiddleware := auth.NewMiddleware(fakeValidator{userID: "user-1"})
	router := NewRouter(authMiddleware, chats, messages, orch, blobs.Dir(), []string{"*"}, logger.New(logger.Config{Format: "text"}))
	return router, mock
}

func TestCreateMessageRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", bytes.NewBufferString(`{"role":"user","content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateMessageRejectsNonOwner(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, owner_id, title, created_at FROM chats`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "title", "created_at"}).
			AddRow("chat-1", "someone-else", "t", time.Now()))

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", bytes.NewBufferString(`{"role":"user","content":"hi"}`))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMessageSucceedsForOwner(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, owner_id, title, created_at FROM chats`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "title", "created_at"}).
			AddRow("chat-1", "user-1", "t", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", bytes.NewBufferString(`{"role":"user","content":"hi"}`))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stream_id")
}

func TestCreateMessageRejectsMissingFields(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, owner_id, title, created_at FROM chats`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "title", "created_at"}).
			AddRow("chat-1", "user-1", "t", time.Now()))

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", bytes.NewBufferString(`{"role":"user"}`))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointIsExposed(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
