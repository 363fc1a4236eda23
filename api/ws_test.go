package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
	"github.com/bitethatthing2/no-creyeron-sub000/memory"
)

func dialWS(t *testing.T, srv *httptest.Server, user string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	h := http.Header{}
	if user != "" {
		h.Set(userHeader, user)
	}
	return websocket.DefaultDialer.Dial(url, h)
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("Could not read frame: %v", err)
		}
		if match(f) {
			return
		}
	}
}

func TestAPI_websocket(t *testing.T) {
	db, ps := memory.New(), memory.NewPubSub()
	api := &API{
		Backend: core.Backend{DB: db, PubSub: ps},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	if _, resp, err := dialWS(t, srv, ""); err == nil || resp == nil || resp.StatusCode != 401 {
		t.Fatalf("Dial without user: got err %v, want a 401 handshake failure", err)
	}

	resp := do(t, srv, "POST", "/conversations/direct", "alice", `{"user_id": "bob"}`)
	var conv conversationResponse
	decodeBody(t, resp, &conv)

	bob, _, err := dialWS(t, srv, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()
	readUntil(t, bob, func(f frame) bool { return f.Type == "ready" })

	if err := bob.WriteJSON(frame{Type: "watch", ConversationID: conv.ConversationID}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, bob, func(f frame) bool { return f.Type == "messages" })

	alice, _, err := dialWS(t, srv, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()
	readUntil(t, alice, func(f frame) bool { return f.Type == "ready" })
	if err := alice.WriteJSON(frame{Type: "typing", ConversationID: conv.ConversationID, UserName: "Alice", IsTyping: true}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, bob, func(f frame) bool {
		return f.Type == "typing" && len(f.Users) == 1 && f.Users[0].UserID == "alice"
	})

	if err := alice.WriteJSON(frame{Type: "send", ConversationID: conv.ConversationID, Content: "doors open at 9"}); err != nil {
		t.Fatal(err)
	}

	var gotMessage, gotNotification bool
	readUntil(t, bob, func(f frame) bool {
		switch f.Type {
		case "messages":
			gotMessage = gotMessage || (len(f.Messages) == 1 && f.Messages[0].Content == "doors open at 9")
		case "notification":
			gotNotification = gotNotification || (f.Notification != nil && f.Notification.ActorID == "alice")
		}
		return gotMessage && gotNotification
	})

	if err := bob.WriteJSON(frame{Type: "dance", ConversationID: conv.ConversationID}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, bob, func(f frame) bool { return f.Type == "error" && f.Error == "unsupported_type" })
}

func TestAPI_websocketFramesMatchConversation(t *testing.T) {
	db, ps := memory.New(), memory.NewPubSub()
	api := &API{
		Backend: core.Backend{DB: db, PubSub: ps},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	var watched, other conversationResponse
	decodeBody(t, do(t, srv, "POST", "/conversations/direct", "alice", `{"user_id": "bob"}`), &watched)
	decodeBody(t, do(t, srv, "POST", "/conversations/direct", "bob", `{"user_id": "carol"}`), &other)

	bob, _, err := dialWS(t, srv, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()
	readUntil(t, bob, func(f frame) bool { return f.Type == "ready" })
	if err := bob.WriteJSON(frame{Type: "watch", ConversationID: watched.ConversationID}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, bob, func(f frame) bool { return f.Type == "messages" })

	const n = 5
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			req, _ := http.NewRequest("POST", srv.URL+"/conversations/"+watched.ConversationID+"/messages",
				strings.NewReader(`{"content": "a`+strconv.Itoa(i)+`"}`))
			req.Header.Set(userHeader, "alice")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("Could not send as alice: %v", err)
				return
			}
			_ = resp.Body.Close()
		}
	}()
	for i := range n {
		if err := bob.WriteJSON(frame{Type: "send", ConversationID: other.ConversationID, Content: "b" + strconv.Itoa(i)}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	otherFrames, sawLast := 0, false
	readUntil(t, bob, func(f frame) bool {
		if f.Type != "messages" {
			return false
		}
		for _, m := range f.Messages {
			if m.ConversationID != f.ConversationID {
				t.Fatalf("Frame for %s carries message of %s", f.ConversationID, m.ConversationID)
			}
		}
		switch f.ConversationID {
		case other.ConversationID:
			otherFrames++
		case watched.ConversationID:
			for _, m := range f.Messages {
				sawLast = sawLast || m.Content == "a"+strconv.Itoa(n-1)
			}
		}
		return otherFrames == n && sawLast
	})
}
