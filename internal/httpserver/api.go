package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tgrelay/internal/auth"
	"tgrelay/internal/domain"
	"tgrelay/internal/fanout"
	"tgrelay/internal/gateway"
	"tgrelay/internal/store"
	"tgrelay/internal/util"
)

const (
	DefaultPresignTTL     = 300 * time.Second
	DefaultMaxUploadBytes = 20 << 20
)

type Sender interface {
	Send(ctx context.Context, req gateway.SendRequest) ([]domain.Message, error)
}

type Notifier interface {
	PublishToast(userID, text string, level fanout.Level)
}

type Presigner interface {
	PresignedGetURL(ctx context.Context, ref domain.BlobRef, ttl time.Duration) (string, error)
}

// API is the staff-facing surface. Every route expects an authenticated staff user.
type API struct {
	Store    store.ConversationStore
	Gateway  Sender
	Blobs    Presigner
	Notifier Notifier

	PresignTTL     time.Duration
	MaxUploadBytes int64
	Logger         *slog.Logger
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/clients/{id}/messages", a.handleSend).Methods(http.MethodPost)
	mux.HandleFunc("/v1/clients/{id}/messages", a.handleList).Methods(http.MethodGet)
	mux.HandleFunc("/v1/clients/{id}/read", a.handleMarkRead).Methods(http.MethodPost)
	mux.HandleFunc("/v1/clients/{id}/status", a.handleChangeStatus).Methods(http.MethodPatch)
	mux.HandleFunc("/v1/messages/unread/count", a.handleUnreadCount).Methods(http.MethodGet)
	mux.HandleFunc("/v1/messages/{id}/attachment", a.handleAttachment).Methods(http.MethodGet)
}

func (a *API) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]
	if clientID == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	req, err := a.decodeSend(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.ClientID = clientID
	if uid, ok := auth.UserID(r.Context()); ok {
		req.AuthorID = &uid
	}

	msgs, err := a.Gateway.Send(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadGateway {
			writeJSON(w, status, domain.SendResponse{Messages: nonNil(msgs), Error: err.Error()})
			return
		}
		if status == http.StatusInternalServerError {
			a.logger().Error("send message failed", "err", err, "client_id", clientID)
			http.Error(w, ErrDependency, status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, domain.SendResponse{Messages: msgs})
}

// decodeSend accepts JSON {"text"} or a multipart form with "text" and an optional "file".
func (a *API) decodeSend(w http.ResponseWriter, r *http.Request) (gateway.SendRequest, error) {
	limit := a.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body domain.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return gateway.SendRequest{}, errors.New(ErrInvalidJSON)
		}
		return gateway.SendRequest{Text: body.Text}, nil
	}

	if err := r.ParseMultipartForm(limit); err != nil {
		return gateway.SendRequest{}, errors.New(ErrBadForm)
	}
	req := gateway.SendRequest{Text: r.FormValue("text")}
	f, hdr, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return gateway.SendRequest{}, errors.New(ErrBadForm)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return gateway.SendRequest{}, fmt.Errorf("%s: %v", ErrBadForm, err)
	}
	req.Attachment = &gateway.File{Name: hdr.Filename, Data: data}
	return req, nil
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, ErrInvalidLimit, http.StatusBadRequest)
			return
		}
		limit = n
	}
	msgs, err := a.Store.ListMessages(r.Context(), clientID, limit)
	if err != nil {
		a.fail(w, err, "list messages failed", "client_id", clientID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]
	n, err := a.Store.MarkRead(r.Context(), clientID, util.NowUTC())
	if err != nil {
		a.fail(w, err, "mark read failed", "client_id", clientID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (a *API) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]
	var req domain.ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	c, err := a.Store.UpdateIdentity(r.Context(), clientID, store.IdentityPatch{Status: &req.Status})
	if err != nil {
		a.fail(w, err, "change status failed", "client_id", clientID, "status", req.Status)
		return
	}
	if uid, ok := auth.UserID(r.Context()); ok && a.Notifier != nil {
		a.Notifier.PublishToast(uid, fmt.Sprintf("Статус клиента %s изменён на «%s»", c.DisplayName(), c.Status), fanout.LevelInfo)
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.Store.CountUnread(r.Context())
	if err != nil {
		a.fail(w, err, "count unread failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (a *API) handleAttachment(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["id"]
	m, err := a.Store.GetMessage(r.Context(), messageID)
	if err != nil {
		a.fail(w, err, "get message failed", "message_id", messageID)
		return
	}
	if m.Attachment == nil {
		http.Error(w, ErrNoAttachment, http.StatusNotFound)
		return
	}
	ttl := a.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	url, err := a.Blobs.PresignedGetURL(r.Context(), *m.Attachment, ttl)
	if err != nil {
		a.fail(w, err, "presign attachment failed", "message_id", messageID)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (a *API) fail(w http.ResponseWriter, err error, msg string, attrs ...any) {
	status := statusFor(err)
	if status == http.StatusNotFound {
		http.Error(w, ErrNotFound, status)
		return
	}
	a.logger().Error(msg, append([]any{"err", err}, attrs...)...)
	http.Error(w, ErrDependency, http.StatusInternalServerError)
}

func nonNil(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return []domain.Message{}
	}
	return msgs
}
