package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"secure-file-share/internal/notify"
	"secure-file-share/internal/session"
)

type staticVerifier struct {
	users map[string]session.Identity
}

func (v *staticVerifier) VerifyCredential(credential string) (session.Identity, error) {
	id, ok := v.users[credential]
	if !ok {
		return session.Identity{}, session.ErrInvalidCredential
	}
	return id, nil
}

type recvFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func newTestHub(t *testing.T) (*Hub, *session.Registry, *httptest.Server) {
	t.Helper()
	reg := session.NewRegistry(&staticVerifier{users: map[string]session.Identity{
		"tok-alice": {UserID: "u-alice", Email: "alice@x.com", DisplayName: "Alice"},
		"tok-bob":   {UserID: "u-bob", Email: "bob@x.com", DisplayName: "Bob"},
	}})
	hub := NewHub(reg)
	hub.SetAnnouncer(notify.New(reg, hub))

	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, reg, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectFrame(t *testing.T, conn *websocket.Conn, event string) recvFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f recvFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("waiting for %q frame: %v", event, err)
	}
	if f.Event != event {
		t.Fatalf("got frame %q, want %q (data=%v)", f.Event, event, f.Data)
	}
	return f
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": "authenticate", "token": token}); err != nil {
		t.Fatalf("send authenticate: %v", err)
	}
	f := expectFrame(t, conn, "authentication_success")
	if f.Data["user_id"] == "" {
		t.Fatalf("authentication_success without user_id: %v", f.Data)
	}
}

func TestHub_AuthenticateLifecycle(t *testing.T) {
	_, reg, srv := newTestHub(t)

	conn := dial(t, srv)
	authenticate(t, conn, "tok-alice")

	if got := reg.ResolveByUserID("u-alice"); len(got) != 1 {
		t.Errorf("ResolveByUserID after ws auth = %v, want one connection", got)
	}

	_ = conn.Close()
	waitFor(t, func() bool { return reg.Len() == 0 })
}

func TestHub_AuthenticateRejected(t *testing.T) {
	_, reg, srv := newTestHub(t)

	conn := dial(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "authenticate", "token": "bogus"}); err != nil {
		t.Fatalf("send authenticate: %v", err)
	}
	expectFrame(t, conn, "authentication_failed")

	if got := reg.Authenticated(""); len(got) != 0 {
		t.Errorf("connection authenticated despite rejection: %v", got)
	}
}

func TestHub_ShareFileReachesRecipient(t *testing.T) {
	_, _, srv := newTestHub(t)

	alice := dial(t, srv)
	bob := dial(t, srv)
	authenticate(t, alice, "tok-alice")
	authenticate(t, bob, "tok-bob")

	err := alice.WriteJSON(map[string]any{
		"type":       "share_file",
		"fileId":     "f1",
		"fileName":   "report.pdf",
		"sharedWith": "bob@x.com",
	})
	if err != nil {
		t.Fatalf("send share_file: %v", err)
	}

	f := expectFrame(t, bob, "file-shared-with-you")
	if f.Data["fileName"] != "report.pdf" || f.Data["recipient"] != "bob@x.com" {
		t.Errorf("payload = %v", f.Data)
	}
	// sharedBy falls back to the sender's display name.
	if f.Data["sharedBy"] != "Alice" {
		t.Errorf("sharedBy = %v, want Alice", f.Data["sharedBy"])
	}

	// Alice must not receive her own share notice.
	_ = alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray recvFrame
	if err := alice.ReadJSON(&stray); err == nil {
		t.Errorf("sharer received stray frame %q", stray.Event)
	}
}

func TestHub_FileUploadedBroadcastExcludesSender(t *testing.T) {
	_, _, srv := newTestHub(t)

	alice := dial(t, srv)
	bob := dial(t, srv)
	authenticate(t, alice, "tok-alice")
	authenticate(t, bob, "tok-bob")

	err := bob.WriteJSON(map[string]any{
		"type":     "file_uploaded",
		"fileName": "big.iso",
		"size":     123,
	})
	if err != nil {
		t.Fatalf("send file_uploaded: %v", err)
	}

	f := expectFrame(t, alice, "file_upload_notification")
	if f.Data["uploadedBy"] != "Bob" {
		t.Errorf("uploadedBy = %v, want Bob", f.Data["uploadedBy"])
	}

	_ = bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray recvFrame
	if err := bob.ReadJSON(&stray); err == nil {
		t.Errorf("uploader received its own broadcast %q", stray.Event)
	}
}

func TestHub_UnauthenticatedEventsIgnored(t *testing.T) {
	_, _, srv := newTestHub(t)

	alice := dial(t, srv)
	bob := dial(t, srv)
	authenticate(t, alice, "tok-alice")

	// bob never authenticates; his events must not fan out.
	err := bob.WriteJSON(map[string]any{
		"type":     "file_uploaded",
		"fileName": "sneaky.bin",
		"size":     1,
	})
	if err != nil {
		t.Fatalf("send file_uploaded: %v", err)
	}

	_ = alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray recvFrame
	if err := alice.ReadJSON(&stray); err == nil {
		t.Errorf("unauthenticated client's event reached others: %q", stray.Event)
	}
}

func TestHub_PushToUnknownConnection(t *testing.T) {
	hub, _, _ := newTestHub(t)
	if err := hub.Push("ghost", "upload-complete", nil); err == nil {
		t.Error("Push to unknown connection returned nil error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
