package orchestrator

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
	"github.com/meshchat/meshchat-service/internal/logger"
	"github.com/meshchat/meshchat-service/internal/repository"
	"github.com/meshchat/meshchat-service/internal/worker"
	"github.com/meshchat/meshchat-service/internal/workerpool"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Format: "text"})
}

// scriptedWorkerFactory builds a workerpool.Factory that spawns "sh -c
// script" subprocesses in place of the meshworker binary, letting pool and
// orchestrator tests drive real OS processes without a real model.
func scriptedWorkerFactory(script string) workerpool.Factory {
	return func() (*worker.Worker, error) {
		return worker.SpawnArgs("sh", []string{"-c", script}, nil)
	}
}

const helloWorldScript = `read _l; printf '%s\n' '{"type":"chunk","chunk":{"role":"assistant","content":"hi "}}'; printf '%s\n' '{"type":"chunk","chunk":{"content":"EOS"}}'; printf '%s\n' '{"type":"eos"}'`

func TestCreateMessagePersistsAndRegistersHandle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, t.TempDir())
	require.NoError(t, err)

	pool := workerpool.New(1, scriptedWorkerFactory(helloWorldScript))
	orch := New(pool, messages, blobs, newTestLogger())

	streamID, msg, err := orch.CreateMessage(context.Background(), "chat-1", chatmodel.RoleUser, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, streamID)
	assert.Equal(t, "chat-1", msg.ChatID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessageRejectsInvalidRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, t.TempDir())
	require.NoError(t, err)

	pool := workerpool.New(1, scriptedWorkerFactory(helloWorldScript))
	orch := New(pool, messages, blobs, newTestLogger())

	_, _, err = orch.CreateMessage(context.Background(), "chat-1", chatmodel.Role("bogus"), "hello")
	require.Error(t, err)

	var coreErr *CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, KindInvalidRole, coreErr.Kind)
	_ = mock
}

// TestSubscribeDrivesStreamToCompletion exercises the full happy path: a
// worker emits one data chunk then EOS, and the orchestrator persists the
// assistant message and emits obj_content/done with no error event.
func TestSubscribeDrivesStreamToCompletion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, chat_id, role, content, created_at FROM messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "created_at"}).
			AddRow("msg-1", "chat-1", "user", "hello", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, t.TempDir())
	require.NoError(t, err)

	pool := workerpool.New(1, scriptedWorkerFactory(helloWorldScript))
	orch := New(pool, messages, blobs, newTestLogger())

	streamID, _, err := orch.CreateMessage(context.Background(), "chat-1", chatmodel.RoleUser, "hello")
	require.NoError(t, err)

	events, err := orch.Subscribe(context.Background(), "chat-1", streamID)
	require.NoError(t, err)

	var names []string
	for ev := range events {
		names = append(names, ev.Name)
	}

	assert.Equal(t, []string{"", "obj_content", "done"}, names, "chunk data is the unnamed/default SSE event")
	assert.Equal(t, 0, pool.Stats().Loaned, "the worker must be released back to the pool")
}

func TestSubscribeUnknownStreamIsNotFound(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, t.TempDir())
	require.NoError(t, err)

	pool := workerpool.New(1, scriptedWorkerFactory(helloWorldScript))
	orch := New(pool, messages, blobs, newTestLogger())

	_, err = orch.Subscribe(context.Background(), "chat-1", "no-such-stream")
	require.Error(t, err)

	var coreErr *CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, KindNotFound, coreErr.Kind)
}

func TestSubscribeTwiceIsRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, chat_id, role, content, created_at FROM messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "created_at"}).
			AddRow("msg-1", "chat-1", "user", "hello", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, t.TempDir())
	require.NoError(t, err)

	// Slow worker so the first subscription is still live when the second
	// Subscribe call races in.
	pool := workerpool.New(1, scriptedWorkerFactory(`read _l; sleep 0.05; printf '%s\n' '{"type":"eos"}'`))
	orch := New(pool, messages, blobs, newTestLogger())

	streamID, _, err := orch.CreateMessage(context.Background(), "chat-1", chatmodel.RoleUser, "hello")
	require.NoError(t, err)

	_, err = orch.Subscribe(context.Background(), "chat-1", streamID)
	require.NoError(t, err)

	_, err = orch.Subscribe(context.Background(), "chat-1", streamID)
	require.Error(t, err)
	var coreErr *CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, KindAlreadySubscribed, coreErr.Kind)
}

// TestSaturatedPoolEmitsBusyBeforeData covers part of the saturated-pool
// seed scenario: with max_workers=1 and a first stream holding the worker,
// the second stream's first event must be `busy`. It does not check when
// the second stream's data arrives.
func TestSaturatedPoolEmitsBusyBeforeData(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The two streams' drive() goroutines run concurrently and interleave
	// their queries nondeterministically; only the per-kind counts matter.
	mock.MatchExpectationsInOrder(false)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, chat_id, role, content, created_at FROM messages`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "created_at"}).
				AddRow("msg-1", "chat-1", "user", "hello", time.Now()))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	}

	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, t.TempDir())
	require.NoError(t, err)

	slowScript := `read _l; sleep 0.2; printf '%s\n' '{"type":"eos"}'`
	pool := workerpool.New(1, scriptedWorkerFactory(slowScript))
	orch := New(pool, messages, blobs, newTestLogger())

	streamA, _, err := orch.CreateMessage(context.Background(), "chat-1", chatmodel.RoleUser, "hello")
	require.NoError(t, err)
	eventsA, err := orch.Subscribe(context.Background(), "chat-1", streamA)
	require.NoError(t, err)

	streamB, _, err := orch.CreateMessage(context.Background(), "chat-1", chatmodel.RoleUser, "hello again")
	require.NoError(t, err)
	eventsB, err := orch.Subscribe(context.Background(), "chat-1", streamB)
	require.NoError(t, err)

	firstB := <-eventsB
	assert.Equal(t, "busy", firstB.Name, "B must see busy before any data, since the pool is saturated by A")

	for range eventsA {
	}
	for range eventsB {
	}
}
