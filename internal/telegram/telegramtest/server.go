// Package telegramtest is a fake Telegram Bot API. It backs the transport tests and
// the mock-telegram binary used for local runs and load tests.
package telegramtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

// Call is one recorded Bot API request.
type Call struct {
	Method   string
	ChatID   int64
	Text     string
	Caption  string
	FileName string
	FileData []byte
	Outcome  string
}

type Config struct {
	Token string
	// OutcomeMode is fixed (first outcome), round_robin or random.
	OutcomeMode string
	// Outcomes: ok, rate_limit, server_error, bad_request, forbidden, timeout.
	Outcomes []string
	Delay    time.Duration
	// TimeoutDelay is how long a "timeout" outcome stalls before answering.
	TimeoutDelay time.Duration
}

type Server struct {
	cfg Config

	idx       uint64
	messageID int64
	updateID  int64

	rngMu sync.Mutex
	rng   *rand.Rand

	mu            sync.Mutex
	calls         []Call
	files         map[string]storedFile
	webhookURL    string
	webhookSecret string

	client *http.Client
}

type storedFile struct {
	path string
	data []byte
}

func NewServer(cfg Config) *Server {
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = []string{"ok"}
	}
	if cfg.TimeoutDelay <= 0 {
		cfg.TimeoutDelay = 12 * time.Second
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	return &Server{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		files:  map[string]storedFile{},
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *Server) Token() string { return s.cfg.Token }

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/bot{token}/{method}", s.handleMethod).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/file/bot{token}/{path:.+}", s.handleFile).Methods(http.MethodGet)
	r.HandleFunc("/mock/updates", s.handleInject).Methods(http.MethodPost)
	return r
}

// SetOutcomes replaces the outcome sequence, restarting round robin.
func (s *Server) SetOutcomes(outcomes ...string) {
	s.rngMu.Lock()
	s.cfg.Outcomes = outcomes
	atomic.StoreUint64(&s.idx, 0)
	s.rngMu.Unlock()
}

// AddFile makes data downloadable under fileID.
func (s *Server) AddFile(fileID, path string, data []byte) {
	s.mu.Lock()
	s.files[fileID] = storedFile{path: path, data: data}
	s.mu.Unlock()
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns recorded calls of one method.
func (s *Server) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) Webhook() (url, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webhookURL, s.webhookSecret
}

func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if vars["token"] != s.cfg.Token {
		writeError(w, http.StatusUnauthorized, "Unauthorized", 0)
		return
	}
	if err := parseForm(r); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request: "+err.Error(), 0)
		return
	}

	method := vars["method"]
	switch method {
	case "getMe":
		writeResult(w, map[string]any{"id": 1, "is_bot": true, "first_name": "Relay", "username": "relay_test_bot"})
		return
	case "getFile":
		s.handleGetFile(w, r)
		return
	case "setWebhook":
		s.mu.Lock()
		s.webhookURL = r.FormValue("url")
		s.webhookSecret = r.FormValue("secret_token")
		s.mu.Unlock()
		s.record(Call{Method: method, Text: r.FormValue("url"), Outcome: "ok"})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": true, "description": "Webhook was set"})
		return
	case "sendMessage", "sendPhoto", "sendDocument":
	default:
		writeError(w, http.StatusNotFound, "Not Found: method not found", 0)
		return
	}

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}

	chatID, _ := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
	c := Call{Method: method, ChatID: chatID, Text: r.FormValue("text"), Caption: r.FormValue("caption")}
	switch method {
	case "sendPhoto":
		c.FileName, c.FileData = formFile(r, "photo")
	case "sendDocument":
		c.FileName, c.FileData = formFile(r, "document")
	}

	outcome := s.nextOutcome()
	c.Outcome = outcome
	s.record(c)

	status, desc, retryAfter := classifyOutcome(outcome)
	if outcome == "timeout" {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.TimeoutDelay):
		}
	}
	if status != http.StatusOK {
		writeError(w, status, desc, retryAfter)
		return
	}

	id := atomic.AddInt64(&s.messageID, 1)
	result := map[string]any{
		"message_id": id,
		"date":       time.Now().Unix(),
		"chat":       map[string]any{"id": chatID, "type": "private"},
	}
	if c.Text != "" {
		result["text"] = c.Text
	}
	if c.Caption != "" {
		result["caption"] = c.Caption
	}
	writeResult(w, result)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.FormValue("file_id")
	s.mu.Lock()
	f, ok := s.files[fileID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "Bad Request: invalid file_id", 0)
		return
	}
	writeResult(w, map[string]any{
		"file_id":        fileID,
		"file_unique_id": "u" + fileID,
		"file_size":      len(f.data),
		"file_path":      f.path,
	})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if vars["token"] != s.cfg.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.path == vars["path"] {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(f.data)
			return
		}
	}
	http.NotFound(w, r)
}

// InjectRequest simulates a user writing to the bot.
type InjectRequest struct {
	UserID    int64  `json:"userId"`
	FirstName string `json:"firstName"`
	Username  string `json:"username"`
	Text      string `json:"text"`
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req InjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, "userId and text required", http.StatusBadRequest)
		return
	}
	status, err := s.Inject(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "webhookStatus": status})
}

// Inject posts a synthesized text update to the registered webhook.
func (s *Server) Inject(ctx context.Context, req InjectRequest) (int, error) {
	url, secret := s.Webhook()
	if url == "" {
		return 0, errors.New("no webhook registered")
	}
	body, err := json.Marshal(TextUpdate(atomic.AddInt64(&s.updateID, 1), req.UserID, req.FirstName, req.Username, req.Text))
	if err != nil {
		return 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if secret != "" {
		httpReq.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// TextUpdate builds the JSON shape of a private-chat text update.
func TextUpdate(updateID, userID int64, firstName, username, text string) map[string]any {
	msg := map[string]any{
		"message_id": updateID,
		"date":       time.Now().Unix(),
		"from":       map[string]any{"id": userID, "is_bot": false, "first_name": firstName, "username": username},
		"chat":       map[string]any{"id": userID, "type": "private", "first_name": firstName},
		"text":       text,
	}
	if strings.HasPrefix(text, "/") {
		cmdLen := len(text)
		if i := strings.IndexByte(text, ' '); i > 0 {
			cmdLen = i
		}
		msg["entities"] = []map[string]any{{"type": "bot_command", "offset": 0, "length": cmdLen}}
	}
	return map[string]any{"update_id": updateID, "message": msg}
}

func (s *Server) record(c Call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *Server) nextOutcome() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	outcomes := s.cfg.Outcomes
	if len(outcomes) == 0 {
		return "ok"
	}
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return outcomes[int(idx)%len(outcomes)]
	case "random":
		return outcomes[s.rng.Intn(len(outcomes))]
	default:
		return outcomes[0]
	}
}

func classifyOutcome(raw string) (status int, description string, retryAfter int) {
	switch strings.TrimSpace(raw) {
	case "", "ok", "success", "timeout":
		return http.StatusOK, "", 0
	case "rate_limit", "429":
		return http.StatusTooManyRequests, "Too Many Requests: retry after 1", 1
	case "bad_request", "400":
		return http.StatusBadRequest, "Bad Request: chat not found", 0
	case "forbidden", "403":
		return http.StatusForbidden, "Forbidden: bot was blocked by the user", 0
	case "server_error", "500":
		return http.StatusInternalServerError, "Internal Server Error", 0
	default:
		return http.StatusInternalServerError, "mock error: " + raw, 0
	}
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(32 << 20)
	}
	return r.ParseForm()
}

func formFile(r *http.Request, field string) (string, []byte) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return "", nil
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	return hdr.Filename, b
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

func writeError(w http.ResponseWriter, status int, description string, retryAfter int) {
	body := map[string]any{"ok": false, "error_code": status, "description": description}
	if retryAfter > 0 {
		body["parameters"] = map[string]any{"retry_after": retryAfter}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// LoggingMiddleware logs each fake API request.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("mock telegram request",
			"method", r.Method,
			"path", redactToken(r.URL.Path),
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func redactToken(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "bot") && len(p) > 3 {
			parts[i] = "bot<redacted>"
		}
	}
	return strings.Join(parts, "/")
}

// ParseOutcomes splits a comma-separated outcome list.
func ParseOutcomes(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}

func (c Call) String() string {
	return fmt.Sprintf("%s chat=%d text=%q file=%q outcome=%s", c.Method, c.ChatID, c.Text, c.FileName, c.Outcome)
}
