package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"pickofgods/internal/apperr"
	"pickofgods/internal/auth"
	"pickofgods/internal/capability"
	"pickofgods/internal/deploy"
	"pickofgods/internal/gateway"
	"pickofgods/internal/logger"
	"pickofgods/internal/models"
	"pickofgods/internal/objectstore"
	"pickofgods/internal/signal"
)

const (
	maxSignalBody     = 1 << 20
	defaultAuditLimit = 20
	maxAuditLimit     = 100
)

type ChatGateway interface {
	RoutingEnabled() bool
	Ready() bool
	Turn(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
	StreamTurn(ctx context.Context, req models.ChatRequest, onChunk func(string) error) (string, error)
}

type ScriptPublisher interface {
	ReadOnly() bool
	Publish(ctx context.Context, req deploy.Request) (*deploy.Result, error)
	List(ctx context.Context) ([]models.DeployedScript, error)
}

type SignalReceiver interface {
	Receive(ctx context.Context, payload []byte, relayedFrom string) (models.Signal, error)
}

type ObjectReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, *objectstore.Object, error)
}

type AuditReader interface {
	Recent(ctx context.Context, n int) ([]models.AuditRecord, error)
	Failures() int64
}

type RoomReader interface {
	Transcript(ctx context.Context, room string) ([]models.ChatMessage, error)
}

// RoomFeed subscribes to pub/sub channels; the redis client satisfies it.
type RoomFeed interface {
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// Deps lists the collaborators behind each route. Everything except
// Gateway is optional; a missing one makes its routes answer 501.
type Deps struct {
	Gateway   ChatGateway
	Auth      *auth.Service
	Deploy    ScriptPublisher
	Signal    SignalReceiver
	Objects   ObjectReader
	Audit     AuditReader
	Rooms     RoomReader
	RoomFeed  RoomFeed
	StaticDir string
	Logger    logger.Logger
}

// Handler wires HTTP routes to the gateway and its collaborators.
type Handler struct {
	gateway   ChatGateway
	auth      *auth.Service
	deploy    ScriptPublisher
	signal    SignalReceiver
	objects   ObjectReader
	audit     AuditReader
	rooms     RoomReader
	roomFeed  RoomFeed
	staticDir string
	l         logger.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	l := d.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{
		gateway:   d.Gateway,
		auth:      d.Auth,
		deploy:    d.Deploy,
		signal:    d.Signal,
		objects:   d.Objects,
		audit:     d.Audit,
		rooms:     d.Rooms,
		roomFeed:  d.RoomFeed,
		staticDir: d.StaticDir,
		l:         l,
	}
}

// NewRouter builds the gin engine with the shared middleware chain and
// every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(requestID(), recovery(h.l), requestLogger(h.l))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/chat", h.chat)

	api.POST("/auth", h.createSession)
	api.GET("/auth", h.currentSession)
	if h.auth != nil {
		api.DELETE("/auth", h.auth.Middleware(), h.auth.CSRFMiddleware(), h.logout)
	}

	api.POST("/deploy", h.publishScript)
	api.GET("/deploy", h.listScripts)
	api.POST("/signal", h.receiveSignal)

	api.GET("/objects/*key", h.getObject)
	if h.auth != nil {
		api.GET("/audit", h.auth.Middleware(), h.recentAudit)
	} else {
		api.GET("/audit", h.recentAudit)
	}
	api.GET("/rooms/:room/messages", h.roomMessages)
	api.GET("/rooms/:room/events", h.roomEvents)
	api.GET("/health", h.health)

	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed"})
	})
	router.NoRoute(h.staticOrNotFound)
}

func notConfigured(c *gin.Context, what string) {
	c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "ConfigurationMissing", "message": what + " is not configured"})
}

// Chat interface
func (h *Handler) chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if !h.gateway.RoutingEnabled() {
		h.streamChat(c, req)
		return
	}

	resp, err := h.gateway.Turn(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrContentBlocked):
			c.JSON(http.StatusForbidden, resp)
		case errors.Is(err, apperr.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, apperr.ErrConfigurationMissing):
			notConfigured(c, "chat model")
		default:
			c.JSON(apperr.Status(err), gin.H{"success": false, "error": gateway.FailureMessage})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// streamChat relays the model output as server-sent events.
func (h *Handler) streamChat(c *gin.Context, req models.ChatRequest) {
	if err := gateway.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !h.gateway.Ready() {
		notConfigured(c, "chat model")
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		return writeEvent(c.Writer, flusher, event, payload)
	}

	full, err := h.gateway.StreamTurn(c.Request.Context(), req, func(chunk string) error {
		return sendEvent("stream", gin.H{"content": chunk})
	})
	if err != nil {
		h.l.Errorf(c.Request.Context(), "chat stream failed: %v", err)
		_ = sendEvent("error", gin.H{"message": gateway.FailureMessage})
		return
	}
	_ = sendEvent("done", models.ReplyEnvelope(true, full))
}

func writeEvent(w io.Writer, flusher http.Flusher, event string, payload interface{}) error {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// Session interface
type sessionRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) createSession(c *gin.Context) {
	if h.auth == nil {
		notConfigured(c, "auth")
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Email required"})
		return
	}
	session, err := h.auth.CreateSession(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid credentials"})
			return
		}
		h.l.Errorf(c.Request.Context(), "create session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Auth failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Auth failed"})
		return
	}
	h.setAuthCookies(c, session.SessionID, csrfToken)
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

func (h *Handler) currentSession(c *gin.Context) {
	if h.auth == nil {
		notConfigured(c, "auth")
		return
	}
	session, err := h.auth.ValidateSession(c.Request.Context(), h.auth.ExtractToken(c))
	if err != nil {
		status := apperr.Status(err)
		if status != http.StatusUnauthorized {
			h.l.Errorf(c.Request.Context(), "validate session failed: %v", err)
			c.JSON(status, gin.H{"success": false, "error": "Auth failed"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "SessionInvalid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

func (h *Handler) logout(c *gin.Context) {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "SessionInvalid"})
		return
	}
	if err := h.auth.RevokeSession(c.Request.Context(), session.SessionID); err != nil {
		h.l.Warnf(c.Request.Context(), "revoke session failed: %v", err)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.SessionTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

// Deploy interface
func (h *Handler) publishScript(c *gin.Context) {
	if h.deploy == nil {
		notConfigured(c, "deploy")
		return
	}
	if h.deploy.ReadOnly() {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Deployment not allowed on this account."})
		return
	}
	var req deploy.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	res, err := h.deploy.Publish(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrReadOnly):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Deployment not allowed on this account."})
		case errors.Is(err, apperr.ErrConfigurationMissing):
			c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "ConfigurationMissing"})
		case errors.Is(err, apperr.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		default:
			h.l.Errorf(c.Request.Context(), "deploy %s failed: %v", req.ScriptName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Deployment failed"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listScripts(c *gin.Context) {
	if h.deploy == nil {
		notConfigured(c, "deploy")
		return
	}
	scripts, err := h.deploy.List(c.Request.Context())
	if err != nil {
		h.l.Errorf(c.Request.Context(), "list scripts failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list scripts failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "scripts": scripts})
}

// Signal interface
func (h *Handler) receiveSignal(c *gin.Context) {
	if h.signal == nil {
		notConfigured(c, "signal")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignalBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	sig, err := h.signal.Receive(c.Request.Context(), body, c.GetHeader(signal.RelayHeader))
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON"})
			return
		}
		h.l.Errorf(c.Request.Context(), "receive signal failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "signal failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": sig.ID, "received": sig.Payload})
}

// Object interface
func (h *Handler) getObject(c *gin.Context) {
	if h.objects == nil {
		notConfigured(c, "object storage")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	rc, obj, err := h.objects.Open(c.Request.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, objectstore.ErrInvalidKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
		case errors.Is(err, objectstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		default:
			h.l.Errorf(c.Request.Context(), "open object %s failed: %v", key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "open object failed"})
		}
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, rc, map[string]string{
		"Cache-Control": "public, max-age=3600",
	})
}

// Audit interface
func (h *Handler) recentAudit(c *gin.Context) {
	if h.audit == nil {
		notConfigured(c, "audit")
		return
	}
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
			return
		}
		limit = min(n, maxAuditLimit)
	}
	records, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		h.l.Errorf(c.Request.Context(), "read audit failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "read audit failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": records})
}

// Room interface
func (h *Handler) roomMessages(c *gin.Context) {
	if h.rooms == nil {
		notConfigured(c, "rooms")
		return
	}
	transcript, err := h.rooms.Transcript(c.Request.Context(), c.Param("room"))
	if err != nil {
		h.l.Errorf(c.Request.Context(), "read room %s failed: %v", c.Param("room"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "read room failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": transcript})
}

// roomEvents forwards room broadcasts to the browser until it disconnects.
func (h *Handler) roomEvents(c *gin.Context) {
	if h.roomFeed == nil {
		notConfigured(c, "room events")
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	ctx := c.Request.Context()
	pubsub, err := h.roomFeed.Subscribe(ctx, capability.RoomChannel(c.Param("room")))
	if err != nil {
		h.l.Errorf(ctx, "subscribe room %s failed: %v", c.Param("room"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer pubsub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(c.Writer, flusher, "message", msg.Payload); err != nil {
				return
			}
		}
	}
}

// Health interface
func (h *Handler) health(c *gin.Context) {
	var failures int64
	if h.audit != nil {
		failures = h.audit.Failures()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"routing":       h.gateway.RoutingEnabled(),
		"chatReady":     h.gateway.Ready(),
		"auditFailures": failures,
	})
}

// staticOrNotFound serves files from the static directory for non-API paths.
func (h *Handler) staticOrNotFound(c *gin.Context) {
	path := c.Request.URL.Path
	if strings.HasPrefix(path, "/api/") || path == "/api" || h.staticDir == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	rel := filepath.FromSlash(strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+path)), "/"))
	if rel == "" || rel == "." {
		rel = "index.html"
	}
	full := filepath.Join(h.staticDir, rel)
	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	c.File(full)
}
