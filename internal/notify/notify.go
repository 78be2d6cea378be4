// Package notify fans domain events out to live websocket connections.
// Delivery is fire-and-forget: callers announce after their database
// transaction has committed and are never affected by push failures.
package notify

import (
	"log"
	"sync"

	"secure-file-share/internal/session"
)

// Pusher delivers one event frame to one connection. The transport
// layer implements this; a gone or slow connection returns an error
// which the notifier logs and drops.
type Pusher interface {
	Push(connID, event string, payload any) error
}

// Event is the closed set of domain events the service announces.
type Event interface {
	isEvent()
}

// UploadCompleted reports a finished upload back to the uploader's own
// devices.
type UploadCompleted struct {
	FileID   string
	FileName string
	Size     int64
	OwnerID  string
}

// UploadActivity is the broadcast activity-feed notice: everyone but
// the uploader learns a file appeared.
type UploadActivity struct {
	FileName   string
	Size       int64
	UploadedBy string
}

// ShareCreated targets a specific recipient user after a share row has
// committed; all of their devices are notified.
type ShareCreated struct {
	FileID      string
	FileName    string
	SharedBy    string
	RecipientID string
}

// ShareNotice targets a recipient by email; only one connection (the
// registry's deterministic first match) is notified.
type ShareNotice struct {
	FileID         string
	FileName       string
	SharedBy       string
	RecipientEmail string
}

func (UploadCompleted) isEvent() {}
func (UploadActivity) isEvent()  {}
func (ShareCreated) isEvent()    {}
func (ShareNotice) isEvent()     {}

type uploadCompletePayload struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
}

type uploadActivityPayload struct {
	FileName   string `json:"fileName"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploadedBy"`
}

type fileSharedPayload struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	SharedBy string `json:"sharedBy"`
}

type sharedWithYouPayload struct {
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	SharedBy  string `json:"sharedBy"`
	Recipient string `json:"recipient"`
}

// Notifier resolves recipients through the session registry and pushes
// to each over the transport. Pushes run in detached goroutines
// supervised by a WaitGroup so shutdown (and tests) can drain them.
type Notifier struct {
	registry *session.Registry
	pusher   Pusher
	wg       sync.WaitGroup
}

func New(registry *session.Registry, pusher Pusher) *Notifier {
	return &Notifier{registry: registry, pusher: pusher}
}

// Announce routes event to its recipients. Recipients are resolved
// first (briefly holding the registry lock), then each push runs in
// its own goroutine so one stuck connection cannot delay the rest.
// Zero resolved recipients is success with zero pushes.
func (n *Notifier) Announce(event Event, exclude string) {
	var (
		name    string
		payload any
		conns   []string
	)

	switch e := event.(type) {
	case UploadCompleted:
		name = "upload-complete"
		payload = uploadCompletePayload{FileID: e.FileID, FileName: e.FileName, Size: e.Size}
		conns = n.registry.ResolveByUserID(e.OwnerID)
	case UploadActivity:
		name = "file_upload_notification"
		payload = uploadActivityPayload{FileName: e.FileName, Size: e.Size, UploadedBy: e.UploadedBy}
		conns = n.registry.Authenticated(exclude)
	case ShareCreated:
		name = "file-shared"
		payload = fileSharedPayload{FileID: e.FileID, FileName: e.FileName, SharedBy: e.SharedBy}
		conns = n.registry.ResolveByUserID(e.RecipientID)
	case ShareNotice:
		name = "file-shared-with-you"
		payload = sharedWithYouPayload{FileID: e.FileID, FileName: e.FileName, SharedBy: e.SharedBy, Recipient: e.RecipientEmail}
		if connID, ok := n.registry.ResolveByEmail(e.RecipientEmail); ok {
			conns = []string{connID}
		}
	default:
		log.Printf("notify: unknown event type %T", event)
		return
	}

	for _, connID := range conns {
		if connID == exclude {
			continue
		}
		n.wg.Add(1)
		go func(connID string) {
			defer n.wg.Done()
			if err := n.pusher.Push(connID, name, payload); err != nil {
				log.Printf("notify: push failed conn=%s event=%s err=%v", connID, name, err)
			}
		}(connID)
	}
}

// Drain blocks until every in-flight push has finished. Called during
// graceful shutdown; tests use it to observe delivery.
func (n *Notifier) Drain() {
	n.wg.Wait()
}
