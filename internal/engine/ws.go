package engine

import (
	"context"
	"log"
	"net/http"
	"time"

	"secure-dialer/internal/auth"
	"secure-dialer/internal/contacts"
	"secure-dialer/internal/events"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsFlushWait  = 5 * time.Second
)

// Client messages on the call feed. Comment drafts live as long as the connection.
type wsInbound struct {
	Type      string `json:"type"` // comment.edit | comment.save | comment.blur
	ContactID string `json:"contactId"`
	Text      string `json:"text"`
}

type wsOutbound struct {
	Type      string `json:"type"`
	ContactID string `json:"contactId,omitempty"`
	Error     string `json:"error,omitempty"`
	Calls     any    `json:"calls,omitempty"`
	Status    any    `json:"status,omitempty"`
}

func (a *API) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range a.origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// callFeed streams tracker events to the browser and accepts comment drafts back.
func (a *API) callFeed(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	conn, err := a.upgrader().Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[API] WebSocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()

	feed, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()

	replies := make(chan wsOutbound, 8)
	done := make(chan struct{})
	drafts := make(map[string]*contacts.CommentDraft)

	go a.writeFeed(conn, claims, feed, replies, done)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx := c.Request().Context()
	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if reply, ok := a.handleDraft(ctx, claims, drafts, msg); ok {
			select {
			case replies <- reply:
			default:
			}
		}
	}
	close(done)

	flushCtx, cancel := context.WithTimeout(context.Background(), wsFlushWait)
	defer cancel()
	for id, d := range drafts {
		if err := d.Blur(flushCtx); err != nil {
			log.Printf("[API] Unsaved comment for %s lost on disconnect: %v", id, err)
		}
	}
	return nil
}

func (a *API) handleDraft(ctx context.Context, claims *auth.Claims, drafts map[string]*contacts.CommentDraft, msg wsInbound) (wsOutbound, bool) {
	d, ok := drafts[msg.ContactID]
	if !ok {
		ct, found := a.book.Contact(msg.ContactID)
		if !found {
			return wsOutbound{Type: "error", ContactID: msg.ContactID, Error: contacts.ErrUnknownContact.Error()}, true
		}
		d = contacts.NewCommentDraft(a.book, ct.ID, ct.Comments)
		drafts[msg.ContactID] = d
	}

	var err error
	switch msg.Type {
	case "comment.edit":
		d.Edit(msg.Text)
		return wsOutbound{}, false
	case "comment.save":
		err = d.Save(ctx)
	case "comment.blur":
		err = d.Blur(ctx)
	default:
		return wsOutbound{Type: "error", Error: "unknown message type " + msg.Type}, true
	}
	if err != nil {
		return wsOutbound{Type: "comment.error", ContactID: msg.ContactID, Error: errorMessage(err)}, true
	}
	return wsOutbound{Type: "comment.saved", ContactID: msg.ContactID}, true
}

func (a *API) writeFeed(conn *websocket.Conn, claims *auth.Claims, feed <-chan events.CallEvent, replies <-chan wsOutbound, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			conn.Close()
			return false
		}
		return true
	}

	if !write(wsOutbound{Type: "calls.snapshot", Calls: a.maskStatuses(claims, a.tracker.List())}) {
		return
	}
	for {
		select {
		case <-done:
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if !write(wsOutbound{Type: ev.Type, Status: a.maskStatus(claims, ev.Status)}) {
				return
			}
		case r := <-replies:
			if !write(r) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
