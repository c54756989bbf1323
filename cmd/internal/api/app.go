package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/messages"
	"kaenbyou/cmd/internal/realtime"
)

func (h *Handler) handleMessageList(w http.ResponseWriter, r *http.Request) {
	var req messageListRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, messageListSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad request")
		return
	}

	q := messages.ListQuery{Platform: req.Platform, ChannelID: req.ChannelID, Limit: messagePageSize}
	if req.Next != "" {
		n, err := strconv.ParseInt(req.Next, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "bad request")
			return
		}
		if n > 0 {
			q.After = time.UnixMilli(n).UTC()
		}
	}

	rows, err := h.messages.ListMessages(r.Context(), q)
	if err != nil {
		h.log.Error("api.message_list.fail", "channel_id", req.ChannelID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	resp := messageListResponse{Data: make([]storedMessage, 0, len(rows))}
	for _, m := range rows {
		resp.Data = append(resp.Data, toStoredMessage(m))
	}
	if n := len(rows); n > 0 {
		resp.Next = strconv.FormatInt(rows[n-1].CreatedAt.UnixMilli(), 10)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleContactList(w http.ResponseWriter, r *http.Request) {
	data, err := h.contacts.List(r.Context())
	if err != nil {
		h.log.Error("api.contact_list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, contactListResponse{Data: data})
}

// handleLogin starts a new connection from the posted config and answers
// once it is online.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, loginSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad request")
		return
	}

	// The connection outlives the request.
	id, conn, err := h.bots.Open(context.WithoutCancel(r.Context()), req.Platform, req.Config)
	switch {
	case errors.Is(err, bots.ErrUnknownPlatform):
		writeError(w, http.StatusForbidden, "unsupported_platform", "unsupported platform")
		return
	case errors.Is(err, bots.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	case err != nil:
		h.log.Error("api.login.start.fail", "platform", req.Platform, "err", err)
		writeError(w, http.StatusBadGateway, "login_failed", "connection failed to start")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.LoginTimeout)
	defer cancel()
	if err := h.bots.WaitOnline(ctx, conn); err != nil {
		h.log.Warn("api.login.timeout", "platform", req.Platform, "instance_id", id, "err", err)
		if rmErr := h.bots.Remove(context.WithoutCancel(r.Context()), id); rmErr != nil {
			h.log.Warn("api.login.cleanup.fail", "instance_id", id, "err", rmErr)
		}
		writeError(w, http.StatusGatewayTimeout, "login_timeout", "connection did not come online")
		return
	}

	h.log.Info("api.login", "platform", req.Platform, "self_id", conn.SelfID(), "instance_id", id)
	writeJSON(w, http.StatusOK, realtime.LoginBody(conn.Login()))
}

type messageListRequest struct {
	ChannelID string `json:"channel_id"`
	Platform  string `json:"platform"`
	Next      string `json:"next"`
}

type loginRequest struct {
	Platform string          `json:"platform"`
	Config   json.RawMessage `json:"config"`
}
