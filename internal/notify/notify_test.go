package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

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

type push struct {
	ConnID  string
	Event   string
	Payload any
}

// recordingPusher captures pushes; optionally fails or blocks per conn.
type recordingPusher struct {
	mu      sync.Mutex
	pushes  []push
	failOn  map[string]bool
	blockOn map[string]chan struct{}
}

func (p *recordingPusher) Push(connID, event string, payload any) error {
	if ch, ok := p.blockOn[connID]; ok {
		<-ch
	}
	if p.failOn[connID] {
		return errors.New("connection gone")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{ConnID: connID, Event: event, Payload: payload})
	return nil
}

func (p *recordingPusher) byConn(connID string) []push {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []push
	for _, q := range p.pushes {
		if q.ConnID == connID {
			out = append(out, q)
		}
	}
	return out
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

// setup builds a registry with: alice on A, bob on B1+B2, carol's
// connection C left unauthenticated.
func setup(t *testing.T) (*session.Registry, *recordingPusher, *Notifier) {
	t.Helper()
	reg := session.NewRegistry(&staticVerifier{users: map[string]session.Identity{
		"tok-alice": {UserID: "u-alice", Email: "alice@x.com", DisplayName: "Alice"},
		"tok-bob":   {UserID: "u-bob", Email: "bob@x.com", DisplayName: "Bob"},
	}})
	for _, c := range []string{"A", "B1", "B2", "C"} {
		reg.OnConnect(c)
	}
	for conn, tok := range map[string]string{"A": "tok-alice", "B1": "tok-bob", "B2": "tok-bob"} {
		if _, err := reg.OnAuthenticate(conn, tok); err != nil {
			t.Fatalf("authenticate %s: %v", conn, err)
		}
	}
	p := &recordingPusher{}
	return reg, p, New(reg, p)
}

func TestAnnounce_UploadCompleted_AllOwnerDevices(t *testing.T) {
	_, p, n := setup(t)

	n.Announce(UploadCompleted{FileID: "f1", FileName: "notes.txt", Size: 42, OwnerID: "u-bob"}, "")
	n.Drain()

	if got := len(p.byConn("B1")); got != 1 {
		t.Errorf("B1 got %d pushes, want 1", got)
	}
	if got := len(p.byConn("B2")); got != 1 {
		t.Errorf("B2 got %d pushes, want 1", got)
	}
	if got := len(p.byConn("A")) + len(p.byConn("C")); got != 0 {
		t.Errorf("non-owner connections got %d pushes, want 0", got)
	}
	if q := p.byConn("B1")[0]; q.Event != "upload-complete" {
		t.Errorf("event = %q, want upload-complete", q.Event)
	}
}

func TestAnnounce_ShareNotice_ExactlyOneRecipient(t *testing.T) {
	_, p, n := setup(t)

	// alice shares with bob@x.com: exactly one of bob's connections is
	// notified, alice and the unauthenticated connection get nothing.
	n.Announce(ShareNotice{FileID: "f1", FileName: "notes.txt", SharedBy: "Alice", RecipientEmail: "bob@x.com"}, "A")
	n.Drain()

	if got := p.count(); got != 1 {
		t.Fatalf("total pushes = %d, want exactly 1", got)
	}
	q := p.pushes[0]
	if q.ConnID != "B1" { // deterministic first match: lowest conn id
		t.Errorf("recipient = %s, want B1", q.ConnID)
	}
	if q.Event != "file-shared-with-you" {
		t.Errorf("event = %q, want file-shared-with-you", q.Event)
	}
}

func TestAnnounce_ShareNotice_NoRecipientIsSilent(t *testing.T) {
	_, p, n := setup(t)

	n.Announce(ShareNotice{FileID: "f1", FileName: "notes.txt", SharedBy: "Alice", RecipientEmail: "nobody@x.com"}, "")
	n.Drain()

	if got := p.count(); got != 0 {
		t.Errorf("pushes = %d, want 0", got)
	}
}

func TestAnnounce_UploadActivity_BroadcastExcludesSender(t *testing.T) {
	_, p, n := setup(t)

	n.Announce(UploadActivity{FileName: "notes.txt", Size: 42, UploadedBy: "Bob"}, "B1")
	n.Drain()

	if got := len(p.byConn("B1")); got != 0 {
		t.Errorf("sender received its own broadcast")
	}
	if got := len(p.byConn("C")); got != 0 {
		t.Errorf("unauthenticated connection received a broadcast")
	}
	if got := p.count(); got != 2 { // A and B2
		t.Errorf("total pushes = %d, want 2", got)
	}
}

func TestAnnounce_ShareCreated_AllRecipientDevices(t *testing.T) {
	_, p, n := setup(t)

	n.Announce(ShareCreated{FileID: "f1", FileName: "notes.txt", SharedBy: "Alice", RecipientID: "u-bob"}, "")
	n.Drain()

	if got := p.count(); got != 2 {
		t.Fatalf("total pushes = %d, want 2 (both of bob's devices)", got)
	}
	for _, q := range p.pushes {
		if q.Event != "file-shared" {
			t.Errorf("event = %q, want file-shared", q.Event)
		}
	}
}

func TestAnnounce_PushFailureIsSwallowed(t *testing.T) {
	reg, p, _ := setup(t)
	p.failOn = map[string]bool{"B1": true}
	n := New(reg, p)

	n.Announce(ShareCreated{FileID: "f1", FileName: "x", SharedBy: "Alice", RecipientID: "u-bob"}, "")
	n.Drain() // must return; the failed push is logged, not propagated

	if got := p.count(); got != 1 {
		t.Errorf("pushes recorded = %d, want 1 (B2 only)", got)
	}
}

func TestAnnounce_SlowRecipientDoesNotBlockOthers(t *testing.T) {
	reg, p, _ := setup(t)
	release := make(chan struct{})
	p.blockOn = map[string]chan struct{}{"B1": release}
	n := New(reg, p)

	n.Announce(ShareCreated{FileID: "f1", FileName: "x", SharedBy: "Alice", RecipientID: "u-bob"}, "")

	// B2's push must land while B1 is stuck.
	deadline := time.After(2 * time.Second)
	for len(p.byConn("B2")) == 0 {
		select {
		case <-deadline:
			t.Fatal("push to B2 blocked behind the stuck push to B1")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	n.Drain()
}
