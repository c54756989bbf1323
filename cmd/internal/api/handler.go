// Package api serves the REST surface: stored message pages, the contact
// directory, bot login and a proxy onto individual bot connections.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/contacts"
	"kaenbyou/cmd/internal/messages"
	"kaenbyou/cmd/internal/validate"
	"kaenbyou/cmd/security/token"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultLoginTimeout = 30 * time.Second

	// Page size of app/message.list.
	messagePageSize = 100
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	messageListSchema = mustSchema("message_list")
	loginSchema       = mustSchema("login")
	proxySchema       = mustSchema("proxy")
)

func mustSchema(name string) *validate.Schema {
	raw, err := schemaFS.ReadFile("schema/" + name + ".json")
	if err != nil {
		panic(err)
	}
	return validate.MustCompile(name, raw)
}

type Config struct {
	// BasePath prefixes every route, e.g. "/satori". Empty serves at the root.
	BasePath     string
	Token        string
	MaxBodyBytes int64
	LoginTimeout time.Duration
}

// Bots is the slice of the connection registry the API drives.
type Bots interface {
	FindOn(platform, selfID string) (bots.Connection, bool)
	Open(ctx context.Context, platform string, raw json.RawMessage) (string, bots.Connection, error)
	WaitOnline(ctx context.Context, conn bots.Connection) error
	Remove(ctx context.Context, id string) error
}

type MessageLister interface {
	ListMessages(ctx context.Context, q messages.ListQuery) ([]messages.StoredMessage, error)
}

type ContactLister interface {
	List(ctx context.Context) (map[string]*contacts.Contact, error)
}

// Handler wires the REST endpoints to the bot registry and the message store.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	bots     Bots
	messages MessageLister
	contacts ContactLister
}

func NewHandler(log *slog.Logger, cfg Config, b Bots, ms MessageLister, cs ContactLister) *Handler {
	if log == nil {
		log = slog.Default()
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	return &Handler{log: log, cfg: cfg, bots: b, messages: ms, contacts: cs}
}

// Register wires API routes onto mux. The event stream is registered
// separately at {base}/v1/events.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	base := h.cfg.BasePath
	mux.HandleFunc("POST "+base+"/v1/app/message.list", h.guard(h.handleMessageList))
	mux.HandleFunc("POST "+base+"/v1/app/contact.list", h.guard(h.handleContactList))
	mux.HandleFunc("POST "+base+"/v1/app/login", h.guard(h.handleLogin))
	mux.HandleFunc("POST "+base+"/v1/internal/{name}", h.guard(h.handleInternal))
	mux.HandleFunc("POST "+base+"/v1/{method}", h.guard(h.handleProxy))
	mux.HandleFunc("GET "+base+"/v1/", handleWrongMethod)
}

// guard enforces the bearer token when one is configured.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, _ := token.FromHeader(r.Header)
		if !token.Guard(got, h.cfg.Token) {
			writeError(w, http.StatusForbidden, "invalid_token", "invalid token")
			return
		}
		next(w, r)
	}
}

func handleWrongMethod(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "please use POST method to send requests")
}
