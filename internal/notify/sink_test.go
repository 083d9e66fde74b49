package notify

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"recruitflow/internal/domain"
	"recruitflow/internal/store"
)

func newTestSink(t *testing.T, hub *Hub) *Sink {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))
	return NewSink(store.NewSQLiteStore(db), hub)
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	sink := newTestSink(t, nil)
	ctx := context.Background()

	var validation *domain.ValidationError
	_, err := sink.Create(ctx, domain.Notification{Title: "t", Message: "m"})
	require.ErrorAs(t, err, &validation)
	_, err = sink.Create(ctx, domain.Notification{UserID: "u", Message: "m"})
	require.ErrorAs(t, err, &validation)
	_, err = sink.Create(ctx, domain.Notification{UserID: "u", Title: "t"})
	require.ErrorAs(t, err, &validation)
}

func TestCreateWithoutHub(t *testing.T) {
	sink := newTestSink(t, nil)

	n, err := sink.Create(context.Background(), domain.Notification{
		UserID: "u1", Title: "Interview booked", Message: "Tomorrow 10:00",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, domain.ImportanceNormal, n.Importance)
	assert.False(t, n.Read)

	count, err := sink.CountUnread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHubDeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	sink := newTestSink(t, hub)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Subscribe(w, r, r.URL.Query().Get("user_id"))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 1 },
		time.Second, 10*time.Millisecond)

	created, err := sink.Create(context.Background(), domain.Notification{
		UserID: "u1", Title: "Offer accepted", Message: "Candidate said yes",
	})
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pushed domain.Notification
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, created.ID, pushed.ID)
	assert.Equal(t, "Offer accepted", pushed.Title)
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	hub := NewHub()
	sink := newTestSink(t, hub)

	// nobody is listening; the create must still succeed
	n, err := sink.Create(context.Background(), domain.Notification{
		UserID: "ghost", Title: "t", Message: "m",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	count, err := sink.CountUnread(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, hub.Subscribers("ghost"))
}

func TestHubDropsDeadConnections(t *testing.T) {
	hub := NewHub()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Subscribe(w, r, "u2")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers("u2") == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("u2") == 0 },
		2*time.Second, 10*time.Millisecond)

	// publishing after the drop is a no-op, not a panic
	hub.Publish(domain.Notification{UserID: "u2", Title: "t", Message: "m"})
}
