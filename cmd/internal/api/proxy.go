package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/realtime"

	v1 "kaenbyou/shared/contracts/events/v1"
)

// proxyRequest carries the fields any proxied method may read.
type proxyRequest struct {
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Next      string `json:"next"`
}

type proxyMethod struct {
	cap  bots.Capability
	call func(ctx context.Context, conn bots.Connection, req proxyRequest) (any, error)
}

var proxyMethods = map[string]proxyMethod{
	"message.create": {cap: bots.CapMessageCreate, call: proxyMessageCreate},
	"message.list":   {cap: bots.CapMessageList, call: proxyMessageList},
	"guild.list":     {cap: bots.CapGuildList, call: proxyGuildList},
	"channel.list":   {cap: bots.CapChannelList, call: proxyChannelList},
	"login.get":      {call: proxyLoginGet},
}

var errMissingField = errors.New("missing field")

// handleProxy forwards a method call to the connection named by the
// X-Self-ID and X-Platform headers.
func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("method")
	m, ok := proxyMethods[name]
	if !ok {
		writeError(w, http.StatusNotFound, "method_not_found", "method not found")
		return
	}

	selfID := strings.TrimSpace(r.Header.Get("X-Self-ID"))
	platform := strings.TrimSpace(r.Header.Get("X-Platform"))
	conn, ok := h.bots.FindOn(platform, selfID)
	if !ok || platform == "" {
		writeError(w, http.StatusForbidden, "bot_not_found", "bot not found")
		return
	}
	if m.cap != "" && !conn.Supports(m.cap) {
		writeError(w, http.StatusNotImplemented, "unsupported", name+" is not supported by "+platform)
		return
	}

	var req proxyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, proxySchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad request")
		return
	}

	out, err := m.call(r.Context(), conn, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, errMissingField):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, bots.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, "unsupported", err.Error())
	default:
		h.log.Warn("api.proxy.fail", "method", name, "platform", platform, "self_id", selfID, "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "platform request failed")
	}
}

// handleInternal calls a platform specific method on the addressed
// connection. The body is a JSON array of positional arguments.
func (h *Handler) handleInternal(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	selfID := strings.TrimSpace(r.Header.Get("X-Self-ID"))
	platform := strings.TrimSpace(r.Header.Get("X-Platform"))
	conn, ok := h.bots.FindOn(platform, selfID)
	if !ok || platform == "" {
		writeError(w, http.StatusForbidden, "bot_not_found", "bot not found")
		return
	}

	var args json.RawMessage
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, nil, &args); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad request")
		return
	}
	if len(args) > 0 && args[0] != '[' {
		writeError(w, http.StatusBadRequest, "bad_request", "arguments must be an array")
		return
	}

	out, err := conn.Internal(r.Context(), name, args)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, bots.ErrUnknownMethod), errors.Is(err, bots.ErrUnsupported):
		writeError(w, http.StatusNotFound, "method_not_found", "method not found")
	case errors.Is(err, bots.ErrBadArguments):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		h.log.Warn("api.internal.fail", "method", name, "platform", platform, "self_id", selfID, "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "platform request failed")
	}
}

func needField(field, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s", errMissingField, field)
	}
	return nil
}

func proxyMessageCreate(ctx context.Context, conn bots.Connection, req proxyRequest) (any, error) {
	if err := needField("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	sent, err := conn.SendMessage(ctx, req.ChannelID, req.Content)
	if err != nil {
		return nil, err
	}
	out := make([]*v1.Message, 0, len(sent))
	for _, m := range sent {
		out = append(out, realtime.MessageBody(m))
	}
	return out, nil
}

func proxyMessageList(ctx context.Context, conn bots.Connection, req proxyRequest) (any, error) {
	if err := needField("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	page, err := conn.ListMessageHistory(ctx, req.ChannelID, req.Next)
	if err != nil {
		return nil, err
	}
	out := pageResponse[*v1.Message]{Data: make([]*v1.Message, 0, len(page.Items)), Next: page.Next}
	for _, m := range page.Items {
		out.Data = append(out.Data, realtime.MessageBody(m))
	}
	return out, nil
}

func proxyGuildList(ctx context.Context, conn bots.Connection, _ proxyRequest) (any, error) {
	gs, err := bots.Collect(conn.ListGuilds(ctx))
	if err != nil {
		return nil, err
	}
	out := pageResponse[*v1.Guild]{Data: make([]*v1.Guild, 0, len(gs))}
	for _, g := range gs {
		out.Data = append(out.Data, realtime.GuildBody(&g))
	}
	return out, nil
}

func proxyChannelList(ctx context.Context, conn bots.Connection, req proxyRequest) (any, error) {
	if err := needField("guild_id", req.GuildID); err != nil {
		return nil, err
	}
	chs, err := bots.Collect(conn.ListChannels(ctx, req.GuildID))
	if err != nil {
		return nil, err
	}
	out := pageResponse[*v1.Channel]{Data: make([]*v1.Channel, 0, len(chs))}
	for _, ch := range chs {
		out.Data = append(out.Data, realtime.ChannelBody(&ch))
	}
	return out, nil
}

func proxyLoginGet(_ context.Context, conn bots.Connection, _ proxyRequest) (any, error) {
	return realtime.LoginBody(conn.Login()), nil
}
