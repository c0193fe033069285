package http

import (
	"log"
	"net/http"
	"strings"

	"anoa.com/taskhub/internal/modules/realtime/ratelimit"
	"anoa.com/taskhub/internal/modules/realtime/service"
	tokenService "anoa.com/taskhub/internal/modules/token/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const tokenProtocolPrefix = "access_token."

type GatewayHandler struct {
	gateway        *service.Gateway
	validator      *tokenService.Validator
	limiter        ratelimit.Limiter
	allowAnonymous bool
	upgrader       websocket.Upgrader
}

func NewGatewayHandler(gateway *service.Gateway, validator *tokenService.Validator, limiter ratelimit.Limiter, allowAnonymous bool) *GatewayHandler {
	return &GatewayHandler{
		gateway:        gateway,
		validator:      validator,
		limiter:        limiter,
		allowAnonymous: allowAnonymous,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Origin is enforced by the CORS layer in front.
			},
		},
	}
}

// HandleNotifications upgrades GET /ws/notifications. The notification
// channel requires a valid identity; anonymous access never applies
// here.
func (h *GatewayHandler) HandleNotifications(c *gin.Context) {
	client, ok := h.admit(c)
	if !ok {
		return
	}

	result := h.authenticate(c, client, false)
	if !result.Valid {
		return
	}

	h.gateway.ServeNotify(client, service.Identity{ID: result.UserID, Username: result.Username})
}

// HandleRoom upgrades GET /ws/projects/:project_id. A valid identity
// with no access to the project closes with 4003; the user's
// notification channel elsewhere is unaffected.
func (h *GatewayHandler) HandleRoom(c *gin.Context) {
	client, ok := h.admit(c)
	if !ok {
		return
	}

	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		client.Reject(service.CloseForbidden, "unknown project")
		return
	}

	var identity service.Identity
	result := h.authenticate(c, client, h.allowAnonymous)
	switch {
	case result.Valid:
		identity = service.Identity{ID: result.UserID, Username: result.Username}
	case h.allowAnonymous:
		// Anonymous viewers may still enter public rooms; the
		// membership check below decides.
	default:
		return // authenticate already rejected with 4001.
	}

	allowed, err := h.gateway.AuthorizeRoom(c.Request.Context(), projectID, identity.ID)
	if err != nil {
		log.Printf("[ws] membership check failed for project %s: %v", projectID, err)
		client.Reject(websocket.CloseInternalServerErr, "membership check unavailable")
		return
	}
	if !allowed {
		client.Reject(service.CloseForbidden, "not a member of the requested room")
		return
	}

	h.gateway.ServeRoom(client, identity, projectID)
}

// admit performs the pre-auth steps shared by both endpoints: the rate
// limit check runs before the upgrade and before any token work, and a
// denied attempt is closed with 4029 without touching the validator.
func (h *GatewayHandler) admit(c *gin.Context) (*service.Client, bool) {
	addr := c.ClientIP()
	allowed, err := h.limiter.Allow(c.Request.Context(), addr)
	if err != nil {
		// Limiter outage must not take the gateway down with it.
		log.Printf("[ws] rate limit check failed for %s: %v", addr, err)
		allowed = true
	}

	_, protocol := extractToken(c.Request)
	var responseHeader http.Header
	if protocol != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {protocol}}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		log.Printf("[ws] upgrade failed for %s: %v", addr, err)
		return nil, false
	}

	client := h.gateway.NewConnection(conn)
	if !allowed {
		log.Printf("[ws] rate limit exceeded for %s", addr)
		client.Reject(service.CloseRateLimited, "rate limit exceeded")
		return nil, false
	}
	return client, true
}

// authenticate validates the connection credential and rejects with
// 4001 on failure, unless the caller tolerates anonymous access. The
// failure reason is surfaced in the close frame, never retried.
func (h *GatewayHandler) authenticate(c *gin.Context, client *service.Client, tolerateAnonymous bool) tokenService.AuthResult {
	client.BeginAuth()

	credential, _ := extractToken(c.Request)
	result := h.validator.Validate(c.Request.Context(), credential)
	if !result.Valid && !tolerateAnonymous {
		reason := "authentication required"
		if result.Reason != nil {
			reason = result.Reason.Error()
		}
		log.Printf("[ws] connection denied from %s: %s", c.ClientIP(), reason)
		client.Reject(service.CloseUnauthenticated, reason)
	}
	return result
}

// extractToken pulls the credential from, in order: the token query
// parameter, the Authorization bearer header, or a
// Sec-WebSocket-Protocol entry of the form "access_token.<token>" for
// clients that cannot set custom headers. The second return is the
// subprotocol to echo back on upgrade, when used.
func extractToken(r *http.Request) (string, string) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, ""
	}

	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:], ""
	}

	for _, part := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
		protocol := strings.TrimSpace(part)
		if strings.HasPrefix(protocol, tokenProtocolPrefix) {
			return strings.TrimPrefix(protocol, tokenProtocolPrefix), protocol
		}
	}

	return "", ""
}
