package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/roclient/internal/models"
)

// Values every FakeServer accepts.
const (
	Database  = "ro_test"
	Login     = "agent@example.com"
	Password  = "hunter2"
	UserID    = 7
	CSRFToken = "fake-csrf-token"
)

const sessionCookie = "session_id"

// FakeProfile is a Red October profile held by the FakeServer.
type FakeProfile struct {
	ID       int64
	Name     string
	Password string
}

// FakeServer mimics the Red October endpoints of an Odoo server: session
// login, profile listing and switching, the password and crypt forms, and
// the notification websocket.
type FakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	sessions map[string]int64
	profiles map[int64]*FakeProfile
	active   int64
	failures map[string][]int
	calls    map[string]int

	wsMu     sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

// NewFakeServer starts a server holding the given profiles. The first one
// is active.
func NewFakeServer(profiles ...FakeProfile) *FakeServer {
	fs := &FakeServer{
		sessions: make(map[string]int64),
		profiles: make(map[int64]*FakeProfile),
		failures: make(map[string][]int),
		calls:    make(map[string]int),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	for i := range profiles {
		p := profiles[i]
		fs.profiles[p.ID] = &p
		if i == 0 {
			fs.active = p.ID
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(fs.inject)

	r.Route("/web", func(r chi.Router) {
		r.Post("/session/authenticate", fs.handleAuthenticate)
		r.Post("/session/get_session_info", fs.handleSessionInfo)
		r.Post("/session/destroy", fs.handleDestroy)

		r.Group(func(r chi.Router) {
			r.Use(fs.requireSession)
			r.Post("/dataset/call_kw/red.october.user/read_current_user", fs.handleReadCurrent)
			r.Post("/dataset/call_kw/red.october.user/read_user_profiles", fs.handleReadProfiles)
		})
	})

	r.Route("/red_october", func(r chi.Router) {
		r.Use(fs.requireSession)
		r.Post("/profile/change/{id}", fs.handleSwitch)
		r.Post("/profile/password", fs.handlePassword)
		r.Post("/crypt/{kind}", fs.handleCrypt)
		r.Get("/notifications", fs.handleNotifications)
	})

	fs.Server = httptest.NewServer(r)
	return fs
}

// Close drops websocket clients and stops the server.
func (fs *FakeServer) Close() {
	fs.wsMu.Lock()
	for conn := range fs.conns {
		conn.Close()
	}
	fs.conns = make(map[*websocket.Conn]struct{})
	fs.wsMu.Unlock()

	fs.Server.Close()
}

// FailNext makes the next requests to path answer with the given statuses,
// one per request.
func (fs *FakeServer) FailNext(path string, statuses ...int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failures[path] = append(fs.failures[path], statuses...)
}

// Calls returns how many requests reached path.
func (fs *FakeServer) Calls(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls[path]
}

// ActiveID returns the session's active profile.
func (fs *FakeServer) ActiveID() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return strconv.FormatInt(fs.active, 10)
}

// Password returns the current password of a profile.
func (fs *FakeServer) Password(id int64) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if p, ok := fs.profiles[id]; ok {
		return p.Password
	}
	return ""
}

// SwitchActive changes the active profile as another browser tab would and
// tells websocket clients.
func (fs *FakeServer) SwitchActive(id int64) {
	fs.mu.Lock()
	fs.active = id
	fs.mu.Unlock()

	fs.Notify(models.Notification{
		Type:      models.NotifyProfileSwitched,
		ProfileID: strconv.FormatInt(id, 10),
	})
}

// AddProfile grants a profile and tells websocket clients.
func (fs *FakeServer) AddProfile(p FakeProfile) {
	fs.mu.Lock()
	fs.profiles[p.ID] = &p
	fs.mu.Unlock()

	fs.Notify(models.Notification{Type: models.NotifyProfilesChanged})
}

// Watchers returns the number of open websocket clients.
func (fs *FakeServer) Watchers() int {
	fs.wsMu.Lock()
	defer fs.wsMu.Unlock()
	return len(fs.conns)
}

// Notify pushes a notification to every websocket client.
func (fs *FakeServer) Notify(n models.Notification) {
	data, _ := json.Marshal(n)

	fs.wsMu.Lock()
	defer fs.wsMu.Unlock()
	for conn := range fs.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(fs.conns, conn)
		}
	}
}

func (fs *FakeServer) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.calls[r.URL.Path]++
		status := 0
		if queue := fs.failures[r.URL.Path]; len(queue) > 0 {
			status = queue[0]
			fs.failures[r.URL.Path] = queue[1:]
		}
		fs.mu.Unlock()

		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fs *FakeServer) sessionUser(r *http.Request) (int64, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return 0, false
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	uid, ok := fs.sessions[c.Value]
	return uid, ok
}

// requireSession answers like Odoo does for an expired session: a JSON-RPC
// error for RPC calls and 403 for everything else.
func (fs *FakeServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := fs.sessionUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			req := decodeRPC(r)
			writeRPCError(w, req.ID, 100, "Session expired", "odoo.http.SessionExpiredException")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Session expired"})
	})
}

type rpcCall struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

func decodeRPC(r *http.Request) rpcCall {
	var req rpcCall
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

func writeRPC(w http.ResponseWriter, id string, result interface{}) {
	raw, _ := json.Marshal(result)
	writeJSON(w, models.RPCResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func writeRPCError(w http.ResponseWriter, id string, code int, message, name string) {
	rpcErr := &models.RPCError{Number: code, Message: message}
	rpcErr.Data.Name = name
	rpcErr.Data.Message = message
	writeJSON(w, models.RPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, data string, errs ...string) {
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, map[string]interface{}{"errors": errs, "data": data})
}

func (fs *FakeServer) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	req := decodeRPC(r)
	var params models.AuthRequest
	_ = json.Unmarshal(req.Params, &params)

	if params.Database != Database || params.Login != Login || params.Password != Password {
		writeRPC(w, req.ID, map[string]interface{}{"uid": false})
		return
	}

	sid := uuid.NewString()
	fs.mu.Lock()
	fs.sessions[sid] = UserID
	fs.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sid, Path: "/", HttpOnly: true})
	writeRPC(w, req.ID, map[string]interface{}{"uid": UserID, "db": Database, "username": Login})
}

func (fs *FakeServer) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	req := decodeRPC(r)
	result := map[string]interface{}{"uid": nil, "csrf_token": CSRFToken}
	if uid, ok := fs.sessionUser(r); ok {
		result["uid"] = uid
	}
	writeRPC(w, req.ID, result)
}

func (fs *FakeServer) handleDestroy(w http.ResponseWriter, r *http.Request) {
	req := decodeRPC(r)
	if c, err := r.Cookie(sessionCookie); err == nil {
		fs.mu.Lock()
		delete(fs.sessions, c.Value)
		fs.mu.Unlock()
	}
	writeRPC(w, req.ID, true)
}

func (p *FakeProfile) record() map[string]interface{} {
	return map[string]interface{}{"id": p.ID, "name": p.Name}
}

func (fs *FakeServer) handleReadCurrent(w http.ResponseWriter, r *http.Request) {
	req := decodeRPC(r)

	fs.mu.Lock()
	records := []map[string]interface{}{}
	if p, ok := fs.profiles[fs.active]; ok {
		records = append(records, p.record())
	}
	fs.mu.Unlock()

	writeRPC(w, req.ID, records)
}

func (fs *FakeServer) handleReadProfiles(w http.ResponseWriter, r *http.Request) {
	req := decodeRPC(r)

	fs.mu.Lock()
	ids := make([]int64, 0, len(fs.profiles))
	for id := range fs.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	records := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		records = append(records, fs.profiles[id].record())
	}
	fs.mu.Unlock()

	writeRPC(w, req.ID, records)
}

func (fs *FakeServer) handleSwitch(w http.ResponseWriter, r *http.Request) {
	req := decodeRPC(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	fs.mu.Lock()
	_, ok := fs.profiles[id]
	if err == nil && ok {
		fs.active = id
	}
	fs.mu.Unlock()

	if err != nil || !ok {
		writeRPCError(w, req.ID, 200, "Profile not accessible", "odoo.exceptions.AccessError")
		return
	}
	writeRPC(w, req.ID, true)
}

// profileForm parses the form and returns the profile named by user_id.
func (fs *FakeServer) profileForm(r *http.Request) (*FakeProfile, bool) {
	if err := r.ParseForm(); err != nil {
		return nil, false
	}
	id, err := strconv.ParseInt(r.PostForm.Get("user_id"), 10, 64)
	if err != nil {
		return nil, false
	}
	p, ok := fs.profiles[id]
	return p, ok
}

func (fs *FakeServer) handlePassword(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.profileForm(r)
	switch {
	case !ok:
		writeEnvelope(w, "", "Unknown profile")
	case r.PostForm.Get("password_old") != p.Password:
		writeEnvelope(w, "", "Wrong password")
	case r.PostForm.Get("password_new") == "":
		writeEnvelope(w, "", "Password can not be empty")
	case r.PostForm.Get("password_new") != r.PostForm.Get("password_confirm"):
		writeEnvelope(w, "", "Passwords do not match")
	default:
		p.Password = r.PostForm.Get("password_new")
		writeEnvelope(w, "Password changed")
	}
}

// handleCrypt wraps data as "RO:<profile>:<base64>" so tests can tell which
// profile encrypted it.
func (fs *FakeServer) handleCrypt(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.profileForm(r)
	switch {
	case r.PostForm.Get("csrf_token") != CSRFToken:
		writeEnvelope(w, "", "Invalid CSRF token")
		return
	case !ok:
		writeEnvelope(w, "", "Unknown profile")
		return
	case p.ID != fs.active:
		writeEnvelope(w, "", "Profile is not active")
		return
	case r.PostForm.Get("password") != p.Password:
		writeEnvelope(w, "", "Invalid password")
		return
	}

	data := r.PostForm.Get("data")
	prefix := "RO:" + strconv.FormatInt(p.ID, 10) + ":"

	switch chi.URLParam(r, "kind") {
	case string(models.OpEncrypt):
		writeEnvelope(w, prefix+base64.StdEncoding.EncodeToString([]byte(data)))
	case string(models.OpDecrypt):
		plain, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(data, prefix))
		if !strings.HasPrefix(data, prefix) || err != nil {
			writeEnvelope(w, "", "Invalid data")
			return
		}
		writeEnvelope(w, string(plain))
	default:
		http.NotFound(w, r)
	}
}

func (fs *FakeServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fs.wsMu.Lock()
	fs.conns[conn] = struct{}{}
	fs.wsMu.Unlock()

	// Reading keeps control frames flowing until the client goes away.
	go func() {
		defer func() {
			fs.wsMu.Lock()
			delete(fs.conns, conn)
			fs.wsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
