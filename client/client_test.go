package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemed-chat-service/internal/handlers"
	"telemed-chat-service/internal/middleware"
	"telemed-chat-service/internal/models"
	"telemed-chat-service/internal/ws"
)

// memoryStore is an in-memory stand-in for the sqlx message repository,
// preserving its ordering and read-flag semantics.
type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []models.Message
}

func (s *memoryStore) Append(ctx context.Context, sender, receiver, body, fileURL, fileType string) (models.Message, error) {
	// The session context must outlive the upgrade request.
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fileType == "" {
		fileType = models.FileTypeText
	}
	s.nextID++
	msg := models.Message{
		ID:        s.nextID,
		Sender:    sender,
		Receiver:  receiver,
		Body:      body,
		FileURL:   fileURL,
		FileType:  fileType,
		CreatedAt: time.Now(),
	}
	s.msgs = append(s.msgs, msg)
	return msg, nil
}

func (s *memoryStore) History(_ context.Context, userA, userB string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, msg := range s.msgs {
		if (msg.Sender == userA && msg.Receiver == userB) || (msg.Sender == userB && msg.Receiver == userA) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryStore) MarkRead(_ context.Context, sender, receiver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].Sender == sender && s.msgs[i].Receiver == receiver {
			s.msgs[i].Read = true
		}
	}
	return nil
}

func (s *memoryStore) UnreadCounts(_ context.Context, recipient string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, msg := range s.msgs {
		if msg.Receiver == recipient && !msg.Read {
			counts[msg.Sender]++
		}
	}
	return counts, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// staticVerifier treats the token itself as the identity.
type staticVerifier struct{}

func (staticVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", assert.AnError
	}
	return token, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *ws.Registry, *memoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memoryStore{}
	registry := ws.NewRegistry()
	verifier := staticVerifier{}

	chatHandler := handlers.NewChatHandler(store)
	uploadDir := t.TempDir()
	uploadHandler, err := handlers.NewUploadHandler(uploadDir, "/uploads/chat", 10<<20, nil)
	require.NoError(t, err)
	chatWS := ws.NewChatWebSocketHandler(registry, store, verifier)

	router := gin.New()
	authMiddleware := middleware.AuthMiddleware(verifier)
	chat := router.Group("/api/chat")
	chat.GET("/history/:userId1/:userId2", authMiddleware, chatHandler.GetChatHistory)
	chat.PUT("/read", authMiddleware, chatHandler.MarkAsRead)
	chat.GET("/unread/:userId", authMiddleware, chatHandler.GetUnreadCounts)
	chat.POST("/upload", authMiddleware, uploadHandler.Handle)
	router.Static("/uploads/chat", uploadDir)
	router.GET("/ws/chat", chatWS.Handle)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, registry, store
}

func dialWidget(t *testing.T, baseURL, identity, peer string) (*Client, []models.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, history, err := Dial(ctx, Config{
		BaseURL:  baseURL,
		Token:    identity,
		Identity: identity,
		Peer:     peer,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, history
}

func waitJoined(t *testing.T, registry *ws.Registry, identities ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, identity := range identities {
			if registry.RoomSize(identity) == 0 {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond, "clients did not join their rooms")
}

func nextEvent(t *testing.T, c *Client) models.ChatEvent {
	t.Helper()
	select {
	case event, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.ChatEvent{}
	}
}

func fetchUnread(baseURL, identity string) (map[string]int, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/chat/unread/"+identity, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+identity)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	counts := map[string]int{}
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func restUnreadCounts(t *testing.T, baseURL, identity string) map[string]int {
	t.Helper()
	counts, err := fetchUnread(baseURL, identity)
	require.NoError(t, err)
	return counts
}

func TestSendReachesBothParties(t *testing.T) {
	server, registry, store := newTestServer(t)

	alice, _ := dialWidget(t, server.URL, "u1", "u2")
	bob, _ := dialWidget(t, server.URL, "u2", "u1")
	waitJoined(t, registry, "u1", "u2")

	require.NoError(t, alice.Send("u2", "hello"))

	// No local echo: the sender renders its own message from the self-room
	// emission, the receiver from the peer-room emission.
	for _, c := range []*Client{alice, bob} {
		event := nextEvent(t, c)
		assert.Equal(t, models.EventReceiveMessage, event.Type)
		assert.Equal(t, "u1", event.Sender)
		assert.Equal(t, "u2", event.Receiver)
		assert.Equal(t, "hello", event.Body)
		require.NotNil(t, event.CreatedAt)
	}

	require.Equal(t, 1, store.count())

	// The open widget acknowledges the peer's message, so the server count
	// reconciles to zero.
	require.Eventually(t, func() bool {
		counts, err := fetchUnread(server.URL, "u2")
		return err == nil && len(counts) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHistoryIsSymmetric(t *testing.T) {
	server, registry, _ := newTestServer(t)

	alice, _ := dialWidget(t, server.URL, "u1", "u2")
	bob, _ := dialWidget(t, server.URL, "u2", "u1")
	waitJoined(t, registry, "u1", "u2")

	require.NoError(t, alice.Send("u2", "first"))
	nextEvent(t, bob)
	require.NoError(t, bob.Send("u1", "second"))
	nextEvent(t, alice)

	ctx := context.Background()
	fromAlice, err := alice.History(ctx, "u2")
	require.NoError(t, err)
	fromBob, err := bob.History(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, fromAlice, 2)
	require.Equal(t, fromAlice, fromBob)
	assert.Equal(t, "first", fromAlice[0].Body)
	assert.Equal(t, "second", fromAlice[1].Body)
}

func TestOfflineReceiverRecoversFromHistory(t *testing.T) {
	server, registry, store := newTestServer(t)

	alice, _ := dialWidget(t, server.URL, "u1", "u2")
	waitJoined(t, registry, "u1")

	require.NoError(t, alice.Send("u2", "are you there?"))
	// Sender still sees its own message via the self room.
	event := nextEvent(t, alice)
	assert.Equal(t, "are you there?", event.Body)

	// Nobody was in u2's room; durability comes from the store, not the router.
	require.Equal(t, 1, store.count())
	require.Equal(t, map[string]int{"u1": 1}, restUnreadCounts(t, server.URL, "u2"))

	// Opening the widget replays history and acknowledges it read.
	_, history := dialWidget(t, server.URL, "u2", "u1")
	require.Len(t, history, 1)
	assert.Equal(t, "are you there?", history[0].Body)
	require.Empty(t, restUnreadCounts(t, server.URL, "u2"))
}

func TestInvalidSendReportedToSenderOnly(t *testing.T) {
	server, registry, store := newTestServer(t)

	alice, _ := dialWidget(t, server.URL, "u1", "u2")
	bob, _ := dialWidget(t, server.URL, "u2", "u1")
	waitJoined(t, registry, "u1", "u2")

	// Empty body with no attachment is rejected before persistence.
	require.NoError(t, alice.Send("u2", ""))

	event := nextEvent(t, alice)
	assert.Equal(t, models.EventError, event.Type)
	assert.NotEmpty(t, event.Reason)
	require.Equal(t, 0, store.count())

	select {
	case unexpected := <-bob.Events():
		t.Fatalf("receiver should see nothing, got %+v", unexpected)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	server, registry, store := newTestServer(t)

	alice, _ := dialWidget(t, server.URL, "u1", "u2")
	bob, _ := dialWidget(t, server.URL, "u2", "u1")
	waitJoined(t, registry, "u1", "u2")

	ctx := context.Background()
	require.NoError(t, alice.SendAttachment(ctx, "u2", "scan.png", strings.NewReader("fake png bytes")))

	event := nextEvent(t, bob)
	require.Equal(t, models.EventReceiveMessage, event.Type)
	assert.Equal(t, models.FileTypeImage, event.FileType)
	require.NotEmpty(t, event.FileURL)
	require.Equal(t, 1, store.count())

	// Attachments are served from the static route without credentials.
	resp, err := http.Get(server.URL + event.FileURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "fake png bytes", string(content))
}

func TestRejectedUploadCreatesNoMessage(t *testing.T) {
	server, registry, store := newTestServer(t)

	alice, _ := dialWidget(t, server.URL, "u1", "u2")
	waitJoined(t, registry, "u1")

	_, _, err := alice.Upload(context.Background(), "malware.exe", strings.NewReader("MZ"))
	require.Error(t, err)
	require.Equal(t, 0, store.count())
}
