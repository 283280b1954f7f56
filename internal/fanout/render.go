package fanout

import (
	"bytes"
	"html/template"

	"tgrelay/internal/domain"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	}
	return false
}

// Renderer turns domain events into the payload pushed to live sessions.
type Renderer interface {
	RenderMessage(m domain.Message) (string, error)
	RenderToast(text string, level Level) (string, error)
}

// HTMLRenderer emits out-of-band HTMX fragments: message bubbles are appended to
// #messages, toasts to #toasts.
type HTMLRenderer struct {
	message *template.Template
	toast   *template.Template
}

var messageTmpl = template.Must(template.New("message").Funcs(template.FuncMap{
	"attachmentURL": func(id string) string { return "/v1/messages/" + id + "/attachment" },
}).Parse(`<div id="messages" hx-swap-oob="beforeend"><div class="message message--{{.Direction}} message--{{.Type}}" id="msg-{{.ID}}" data-seq="{{.Seq}}">
{{- if .Attachment}}{{if eq .Type "image"}}<img class="message__image" src="{{attachmentURL .ID}}" alt="{{.Attachment.Filename}}">{{else}}<a class="message__file" href="{{attachmentURL .ID}}">{{.Attachment.Filename}}</a>{{end}}{{end -}}
{{- if .Content}}<p class="message__text">{{.Content}}</p>{{end -}}
<time class="message__time" datetime="{{.CreatedAt.Format "2006-01-02T15:04:05Z07:00"}}">{{.CreatedAt.Format "15:04"}}</time>
{{- if and (eq .Direction "outgoing") (not .Delivered)}}<span class="message__status message__status--failed">!</span>{{end -}}
</div></div>`))

var toastTmpl = template.Must(template.New("toast").Parse(
	`<div id="toasts" hx-swap-oob="beforeend"><div class="toast toast--{{.Level}}" role="status">{{.Text}}</div></div>`))

func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{message: messageTmpl, toast: toastTmpl}
}

func (r *HTMLRenderer) RenderMessage(m domain.Message) (string, error) {
	var buf bytes.Buffer
	if err := r.message.Execute(&buf, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *HTMLRenderer) RenderToast(text string, level Level) (string, error) {
	if !level.Valid() {
		level = LevelInfo
	}
	var buf bytes.Buffer
	err := r.toast.Execute(&buf, struct {
		Text  string
		Level Level
	}{text, level})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
