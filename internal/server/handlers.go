package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"social-dm/internal/auth"
	"social-dm/internal/chat"
	"social-dm/internal/inbox"
	"social-dm/internal/registry"
)

const defaultStreamWriteTimeout = 10 * time.Second

type parsers struct {
	previewsPool fastjson.ParserPool
	messagesPool fastjson.ParserPool
}

type handler struct {
	logger   *zap.SugaredLogger
	inbox    *inbox.Service
	router   *chat.Router
	registry *registry.Registry
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	origins  []string
	parsers  parsers

	writeTimeout time.Duration

	// sessionsMu orders every sessions.Add before the Wait in waitSessions
	sessionsMu sync.Mutex
	closing    bool
	sessions   sync.WaitGroup
}

// userIDField validates a positive user id field the way every request body expects it
func userIDField(v *fastjson.Value, name string) (int64, string) {
	if !v.Exists(name) {
		return 0, "Missing Field \"" + name + "\""
	}

	id, err := v.Get(name).Int64()
	if err != nil {
		return 0, "Field \"" + name + "\" must be a 64-bit integer value"
	}

	if id < 1 {
		return 0, "Field \"" + name + "\" must be a valid user id greater than zero"
	}

	return id, ""
}

// previews handles HTTP requests on "/previews/get" endpoint
func (h *handler) previews(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.previewsPool.Get()
	v, _ := parser.ParseBytes(body)
	userID, msg := userIDField(v, "user")
	h.parsers.previewsPool.Put(parser)

	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	previews, err := h.inbox.Previews(r.Context(), userID)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, previews)
}

// messages handles HTTP requests on "/messages/get" endpoint
func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.messagesPool.Get()
	v, _ := parser.ParseBytes(body)
	userID, msg := userIDField(v, "user")
	var partnerID int64
	if msg == "" {
		partnerID, msg = userIDField(v, "partner")
	}
	h.parsers.messagesPool.Put(parser)

	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	messages, err := h.inbox.History(r.Context(), userID, partnerID)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, messages)
}

// health handles HTTP requests on "/health" endpoint
func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	payload := []byte(`{"status":"ok","online":` + strconv.Itoa(h.registry.Len()) + `}`)
	h.write(w, payload)
}

// stream handles websocket upgrades on "/ws/{userID}" endpoint
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	userID, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/ws/"), 10, 64)
	if err != nil {
		http.Error(w, "User id in path must be a 64-bit integer value", http.StatusBadRequest)
		return
	}

	if userID < 1 {
		http.Error(w, "User id in path must be a valid user id greater than zero", http.StatusBadRequest)
		return
	}

	if h.verifier != nil {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Missing token", http.StatusUnauthorized)
			return
		}

		subject, err := h.verifier.Verify(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if subject != userID {
			http.Error(w, "Token was not issued for this user", http.StatusForbidden)
			return
		}
	}

	// counted before the hijack so Shutdown cannot return ahead of it
	if !h.beginSession() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.sessions.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied to the client
		h.logger.Debugf("websocket upgrade for user (id: %d): %v", userID, err)
		return
	}

	transport := newWSTransport(conn, h.writeTimeout)
	err = h.router.Serve(context.WithoutCancel(r.Context()), userID, transport)
	if isClosure(err) {
		h.logger.Debugf("Stream of user (id: %d) closed: %v", userID, err)
		return
	}
	h.logger.Infof("Stream of user (id: %d) failed: %v", userID, err)
}

func (h *handler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || lo.Contains(h.origins, origin)
}

func (h *handler) beginSession() bool {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()

	if h.closing {
		return false
	}
	h.sessions.Add(1)
	return true
}

// waitSessions refuses new streams, then blocks until every stream returned or d passed
func (h *handler) waitSessions(d time.Duration) bool {
	h.sessionsMu.Lock()
	h.closing = true
	h.sessionsMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.write(w, payload)
}

func (h *handler) write(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

func isClosure(err error) bool {
	return err == nil ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed)
}
