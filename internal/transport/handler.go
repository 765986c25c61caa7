package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sakif/reelhouse/internal/auth"
)

// Handler authenticates the handshake and upgrades it to a Client.
//
// HTTP: GET /ws
//
// The token and its account are checked before the upgrade so an
// unauthenticated browser, or one holding a deleted account's token, gets a
// plain 401 instead of a socket that closes immediately. A request
// whose Origin is not allowed gets 403 from the upgrader.
type Handler struct {
	hub      *Hub
	chat     ChatAPI
	tokens   *auth.TokenService
	accounts auth.AccountLookup
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the socket endpoint. allowedOrigins lists full origins
// ("https://app.example.com"); empty or "*" allows any origin.
func NewHandler(hub *Hub, chat ChatAPI, tokens *auth.TokenService, accounts auth.AccountLookup, allowedOrigins []string, logger *slog.Logger) *Handler {
	h := &Handler{hub: hub, chat: chat, tokens: tokens, accounts: accounts, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Authenticate(r, h.tokens, h.accounts)
	if err != nil {
		if errors.Is(err, auth.ErrAccountLookup) {
			h.logger.Error("socket: account lookup failed", slog.String("error", err.Error()))
		}
		auth.WriteAuthError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn("socket: upgrade failed",
			slog.String("userID", userID),
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()),
		)
		return
	}

	c := newClient(h.hub, h.chat, conn, userID, h.logger)
	h.hub.Register(c)
	c.Start()
	h.logger.Info("socket connected", slog.String("userID", userID))
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser requests from a listed origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
