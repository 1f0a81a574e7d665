// Package client implements the chat widget's session against the chat
// service: it opens the websocket, joins the caller's room, replays history,
// surfaces live events and issues read-acknowledgements.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telemed-chat-service/internal/models"
)

// Config describes one open conversation.
type Config struct {
	// BaseURL is the http(s) address of the chat service.
	BaseURL string
	// Token is the bearer credential identifying the caller.
	Token string
	// Identity is the caller's own identity; the room joined on open.
	Identity string
	// Peer is the other party of the open conversation.
	Peer string
	// HTTPClient overrides the REST client when set.
	HTTPClient *http.Client
	// EventBuffer sizes the live event channel. Defaults to 64.
	EventBuffer int
}

// Client is one widget session. Events for the open conversation arrive on
// Events; sends are fire-and-forget and render only via the self-room
// receive_message emission, never via a local echo.
type Client struct {
	cfg     Config
	httpc   *http.Client
	conn    *websocket.Conn
	events  chan models.ChatEvent
	writeMu sync.Mutex
	once    sync.Once
}

// Dial opens the websocket, joins the caller's room, fetches the conversation
// history and acknowledges the peer's messages as read.
func Dial(ctx context.Context, cfg Config) (*Client, []models.Message, error) {
	if cfg.Identity == "" || cfg.Peer == "" {
		return nil, nil, fmt.Errorf("identity and peer are required")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}

	wsURL, err := websocketURL(cfg.BaseURL, cfg.Token)
	if err != nil {
		return nil, nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial chat websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		cfg:    cfg,
		httpc:  httpc,
		conn:   conn,
		events: make(chan models.ChatEvent, cfg.EventBuffer),
	}

	if err := c.writeEvent(models.ChatEvent{Type: models.EventJoinRoom, Identity: cfg.Identity}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("join room: %w", err)
	}

	history, err := c.History(ctx, cfg.Peer)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := c.MarkRead(ctx, cfg.Peer); err != nil {
		conn.Close()
		return nil, nil, err
	}

	go c.readLoop()
	return c, history, nil
}

// Events delivers live events for the open conversation plus error events.
// The channel closes when the connection drops or Close is called.
func (c *Client) Events() <-chan models.ChatEvent {
	return c.events
}

// Send submits a text message. It does not wait for the store round-trip: the
// sent message appears only when the server emits it back to the self room.
func (c *Client) Send(receiver, body string) error {
	return c.writeEvent(models.ChatEvent{
		Type:     models.EventSendMessage,
		Sender:   c.cfg.Identity,
		Receiver: receiver,
		Body:     body,
	})
}

// SendAttachment uploads the file and submits a file message referencing it.
func (c *Client) SendAttachment(ctx context.Context, receiver, filename string, content io.Reader) error {
	fileURL, fileType, err := c.Upload(ctx, filename, content)
	if err != nil {
		return err
	}
	body := "File attachment"
	if fileType == models.FileTypeImage {
		body = "Image attachment"
	}
	return c.writeEvent(models.ChatEvent{
		Type:     models.EventSendMessage,
		Sender:   c.cfg.Identity,
		Receiver: receiver,
		Body:     body,
		FileURL:  fileURL,
		FileType: fileType,
	})
}

// History fetches the conversation with peer, oldest first.
func (c *Client) History(ctx context.Context, peer string) ([]models.Message, error) {
	var history []models.Message
	path := fmt.Sprintf("/api/chat/history/%s/%s", url.PathEscape(c.cfg.Identity), url.PathEscape(peer))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return history, nil
}

// MarkRead acknowledges every message from sender to this client as read.
func (c *Client) MarkRead(ctx context.Context, sender string) error {
	body := map[string]string{"senderId": sender, "receiverId": c.cfg.Identity}
	if err := c.doJSON(ctx, http.MethodPut, "/api/chat/read", body, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// UnreadCounts fetches this client's server-authoritative unread counts.
func (c *Client) UnreadCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	path := "/api/chat/unread/" + url.PathEscape(c.cfg.Identity)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &counts); err != nil {
		return nil, fmt.Errorf("fetch unread counts: %w", err)
	}
	return counts, nil
}

// Upload posts a multipart file and returns its served URL and derived type.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (string, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", "", err
	}
	if err := writer.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat/upload", &buf)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	}

	var result struct {
		FileURL  string `json:"fileUrl"`
		FileType string `json:"fileType"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	return result.FileURL, result.FileType, nil
}

// Close tears down the websocket. The server evicts the connection from its
// room; undelivered messages remain in the store for the next history fetch.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		c.Close()
	}()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var event models.ChatEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}

		switch event.Type {
		case models.EventReceiveMessage:
			if !c.matchesConversation(event) {
				continue
			}
			c.events <- event
			// A live message from the peer is read the moment it renders.
			if event.Sender == c.cfg.Peer {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = c.MarkRead(ctx, c.cfg.Peer)
				cancel()
			}
		case models.EventError:
			c.events <- event
		}
	}
}

func (c *Client) matchesConversation(event models.ChatEvent) bool {
	return (event.Sender == c.cfg.Identity && event.Receiver == c.cfg.Peer) ||
		(event.Sender == c.cfg.Peer && event.Receiver == c.cfg.Identity)
}

func (c *Client) writeEvent(event models.ChatEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func websocketURL(baseURL, token string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		if !strings.HasPrefix(parsed.Scheme, "ws") {
			return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
		}
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ws/chat"
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
