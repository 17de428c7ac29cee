package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeetModi24/notesync/backend/internal/invites"
	"github.com/MeetModi24/notesync/backend/internal/notes"
	"github.com/MeetModi24/notesync/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "notesync_user_id"
	userEmailContextKey = "notesync_user_email"

	defaultListLimit  = 50
	maxListLimit      = 200
	realtimeHeartbeat = 15 * time.Second
)

var (
	errMissingTokens     = errors.New("session token manager dependency required")
	errMissingEngine     = errors.New("sync engine dependency required")
	errMissingStore      = errors.New("document store dependency required")
	errMissingInvites    = errors.New("invite manager dependency required")
	errMissingIdentities = errors.New("identity service dependency required")
	errMissingDispatcher = errors.New("realtime dispatcher dependency required")
	errInvalidAuthHeader = errors.New("authorization header missing or invalid")
)

// SessionTokens resolves bearer credentials to user identities and mints new
// session tokens.
type SessionTokens interface {
	Issue(ctx context.Context, userID, email string) (string, int64, error)
	Validate(token string) (userID, email string, err error)
}

// ReadCache accelerates listing reads. It may be nil, which disables caching.
type ReadCache interface {
	GetView(ctx context.Context, key string) (string, bool, error)
	SetView(ctx context.Context, userID, key, value string) error
}

// Dependencies wires the HTTP boundary.
type Dependencies struct {
	Tokens     SessionTokens
	Engine     *notes.Engine
	Store      *notes.Store
	Invites    *invites.Manager
	Identities *users.Service
	Cache      ReadCache
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin router for the sync API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Invites == nil {
		return nil, errMissingInvites
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.Tokens,
		engine:     deps.Engine,
		store:      deps.Store,
		invites:    deps.Invites,
		identities: deps.Identities,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/notes/sync", handler.handleSync)
	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.POST("/notes/:id/share", handler.handleShare)
	protected.DELETE("/notes/:id/share/:userID", handler.handleUnshare)
	protected.POST("/notes/:id/public", handler.handleSetPublic)
	protected.POST("/notes/:id/invites", handler.handleIssueInvite)
	protected.POST("/invites/accept", handler.handleAcceptInvite)
	protected.GET("/realtime", handler.handleUserRealtime)
	protected.GET("/notes/:id/realtime", handler.handleNoteRealtime)

	return router, nil
}

type httpHandler struct {
	tokens     SessionTokens
	engine     *notes.Engine
	store      *notes.Store
	invites    *invites.Manager
	identities *users.Service
	cache      ReadCache
	dispatcher *Dispatcher
	logger     *zap.Logger
}

type loginRequestPayload struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, err := notes.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, err := h.identities.Ensure(userID.String(), request.Email, request.DisplayName)
	if err != nil {
		h.logger.Error("identity registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), identity.UserID, identity.Email)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthHeader.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthHeader.Error()})
		return
	}
	userID, email, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Set(userEmailContextKey, email)
	c.Next()
}

type changeRequestPayload struct {
	CorrelationID string    `json:"correlation_id"`
	Operation     string    `json:"op"`
	NoteID        string    `json:"note_id"`
	ClientVersion int64     `json:"client_version"`
	Title         *string   `json:"title"`
	Body          *string   `json:"body"`
	Tags          *[]string `json:"tags"`
	ClientTag     string    `json:"client_tag"`
}

func (p changeRequestPayload) toChange() notes.ChangeRequest {
	change := notes.ChangeRequest{
		CorrelationID: p.CorrelationID,
		Operation:     notes.OperationType(strings.ToLower(strings.TrimSpace(p.Operation))),
		NoteID:        strings.TrimSpace(p.NoteID),
		ClientVersion: p.ClientVersion,
		Title:         p.Title,
		Body:          p.Body,
		ClientTag:     p.ClientTag,
	}
	if p.Tags != nil {
		change.Tags = *p.Tags
		if change.Tags == nil {
			change.Tags = []string{}
		}
	}
	return change
}

type notePayload struct {
	NoteID        string             `json:"note_id"`
	OwnerID       string             `json:"owner_id"`
	Title         string             `json:"title"`
	Body          string             `json:"body"`
	Tags          []string           `json:"tags"`
	Shares        []notes.ShareEntry `json:"shares"`
	IsPublic      bool               `json:"is_public"`
	IsDeleted     bool               `json:"is_deleted"`
	Version       int64              `json:"version"`
	LastWriterTag string             `json:"last_writer_tag,omitempty"`
	CreatedAtS    int64              `json:"created_at_s"`
	UpdatedAtS    int64              `json:"updated_at_s"`
}

func toNotePayload(note *notes.Note) *notePayload {
	if note == nil {
		return nil
	}
	tags := note.Tags()
	if tags == nil {
		tags = []string{}
	}
	shares := note.Shares()
	if shares == nil {
		shares = []notes.ShareEntry{}
	}
	return &notePayload{
		NoteID:        note.NoteID,
		OwnerID:       note.OwnerID,
		Title:         note.Title,
		Body:          note.Body,
		Tags:          tags,
		Shares:        shares,
		IsPublic:      note.IsPublic,
		IsDeleted:     note.IsDeleted,
		Version:       note.Version,
		LastWriterTag: note.LastWriterTag,
		CreatedAtS:    note.CreatedAtSeconds,
		UpdatedAtS:    note.UpdatedAtSeconds,
	}
}

type changeOutcomePayload struct {
	CorrelationID string       `json:"correlation_id,omitempty"`
	NoteID        string       `json:"note_id,omitempty"`
	Status        string       `json:"status"`
	ErrorCode     string       `json:"error_code,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Note          *notePayload `json:"note,omitempty"`
}

func toOutcomePayload(outcome notes.ChangeOutcome) changeOutcomePayload {
	return changeOutcomePayload{
		CorrelationID: outcome.CorrelationID,
		NoteID:        outcome.NoteID,
		Status:        string(outcome.Status),
		ErrorCode:     outcome.ErrorCode,
		Reason:        outcome.Reason,
		Note:          toNotePayload(outcome.Note),
	}
}

type syncRequestPayload struct {
	Changes []changeRequestPayload `json:"changes"`
}

type syncResponsePayload struct {
	Outcomes []changeOutcomePayload `json:"outcomes"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	changes := make([]notes.ChangeRequest, 0, len(request.Changes))
	for _, payload := range request.Changes {
		changes = append(changes, payload.toChange())
	}

	outcomes := h.engine.ApplyChanges(c.Request.Context(), notes.UserID(userID), changes)
	response := syncResponsePayload{Outcomes: make([]changeOutcomePayload, 0, len(outcomes))}
	for _, outcome := range outcomes {
		response.Outcomes = append(response.Outcomes, toOutcomePayload(outcome))
	}
	c.JSON(http.StatusOK, response)
}

// noteIDParam validates the :id path segment before it reaches the store.
func noteIDParam(c *gin.Context) (string, bool) {
	noteID, err := notes.NewNoteID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return "", false
	}
	return noteID.String(), true
}

// applyOne funnels the single-change endpoints through the same engine path
// as the batch endpoint.
func (h *httpHandler) applyOne(c *gin.Context, change notes.ChangeRequest) {
	userID := c.GetString(userIDContextKey)
	outcomes := h.engine.ApplyChanges(c.Request.Context(), notes.UserID(userID), []notes.ChangeRequest{change})
	outcome := outcomes[0]

	switch outcome.Status {
	case notes.ChangeStatusOK:
		c.JSON(http.StatusOK, toOutcomePayload(outcome))
	case notes.ChangeStatusConflict:
		c.JSON(http.StatusConflict, toOutcomePayload(outcome))
	default:
		c.JSON(statusForErrorCode(outcome.ErrorCode), toOutcomePayload(outcome))
	}
}

func statusForErrorCode(code string) int {
	switch code {
	case notes.ErrorCodeNotFound:
		return http.StatusNotFound
	case notes.ErrorCodeForbidden:
		return http.StatusForbidden
	case notes.ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case notes.ErrorCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var payload changeRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	change := payload.toChange()
	change.Operation = notes.OperationTypeCreate
	h.applyOne(c, change)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var payload changeRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	change := payload.toChange()
	change.Operation = notes.OperationTypeUpdate
	change.NoteID = noteID
	h.applyOne(c, change)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	h.applyOne(c, notes.ChangeRequest{
		Operation: notes.OperationTypeDelete,
		NoteID:    noteID,
	})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	note, err := h.store.Load(c.Request.Context(), noteID)
	if err != nil {
		h.respondDomainError(c, err)
		return
	}
	if note.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if notes.Resolve(note, userID, notes.LevelRead) == notes.LevelNone {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": toNotePayload(note)})
}

type listResponsePayload struct {
	Notes      []*notePayload `json:"notes"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	rawCursor := c.Query("cursor")
	limit := defaultListLimit
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		if parsed > maxListLimit {
			parsed = maxListLimit
		}
		limit = parsed
	}

	cacheKey := fmt.Sprintf("notes:%s:%s:%d", userID, rawCursor, limit)
	if h.cache != nil {
		if cached, hit, err := h.cache.GetView(c.Request.Context(), cacheKey); err == nil && hit {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		} else if err != nil {
			h.logger.Warn("cache read failed", zap.Error(err))
		}
	}

	cursor, err := notes.DecodeCursor(rawCursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return
	}

	page, next, err := h.store.List(c.Request.Context(), userID, cursor, limit)
	if err != nil {
		h.logger.Error("note listing failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}

	response := listResponsePayload{Notes: make([]*notePayload, 0, len(page))}
	for i := range page {
		response.Notes = append(response.Notes, toNotePayload(&page[i]))
	}
	if next != nil {
		response.NextCursor = next.Encode()
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encoding_failed"})
		return
	}
	if h.cache != nil {
		if err := h.cache.SetView(c.Request.Context(), userID, cacheKey, string(encoded)); err != nil {
			h.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", encoded)
}

type shareRequestPayload struct {
	UserID string `json:"user_id"`
	Level  string `json:"level"`
}

func (h *httpHandler) handleShare(c *gin.Context) {
	actingUser := c.GetString(userIDContextKey)
	var payload shareRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	targetUser, err := notes.NewUserID(payload.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}

	note, err := h.engine.Share(c.Request.Context(), notes.UserID(actingUser), noteID, targetUser.String(), notes.Level(payload.Level))
	if err != nil {
		h.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": toNotePayload(note)})
}

func (h *httpHandler) handleUnshare(c *gin.Context) {
	actingUser := c.GetString(userIDContextKey)
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	targetUser, err := notes.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.engine.Unshare(c.Request.Context(), notes.UserID(actingUser), noteID, targetUser.String())
	if err != nil {
		h.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": toNotePayload(note)})
}

type publicRequestPayload struct {
	Public bool `json:"public"`
}

func (h *httpHandler) handleSetPublic(c *gin.Context) {
	actingUser := c.GetString(userIDContextKey)
	var payload publicRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	note, err := h.engine.SetPublic(c.Request.Context(), notes.UserID(actingUser), noteID, payload.Public)
	if err != nil {
		h.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": toNotePayload(note)})
}

type issueInviteRequestPayload struct {
	Level      string `json:"level"`
	Email      string `json:"email"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type issueInviteResponsePayload struct {
	InviteID  string `json:"invite_id"`
	Secret    string `json:"secret"`
	Level     string `json:"level"`
	ExpiresAt int64  `json:"expires_at_s,omitempty"`
}

func (h *httpHandler) handleIssueInvite(c *gin.Context) {
	actingUser := c.GetString(userIDContextKey)
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}

	var payload issueInviteRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	// Only the note's owner may mint capability tokens for it.
	note, err := h.store.Load(c.Request.Context(), noteID)
	if err != nil {
		h.respondDomainError(c, err)
		return
	}
	if note.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if notes.Resolve(note, actingUser, notes.LevelOwner) != notes.LevelOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	ttl := time.Duration(payload.TTLSeconds) * time.Second
	invite, secret, err := h.invites.Issue(c.Request.Context(), actingUser, noteID, notes.Level(payload.Level), payload.Email, ttl)
	if err != nil {
		h.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, issueInviteResponsePayload{
		InviteID:  invite.InviteID,
		Secret:    secret,
		Level:     invite.Level,
		ExpiresAt: invite.ExpiresAtSeconds,
	})
}

type acceptInviteRequestPayload struct {
	Secret string `json:"secret"`
}

func (h *httpHandler) handleAcceptInvite(c *gin.Context) {
	redeemer := c.GetString(userIDContextKey)
	redeemerEmail := c.GetString(userEmailContextKey)
	if redeemerEmail == "" {
		if registered, err := h.identities.EmailOf(redeemer); err == nil {
			redeemerEmail = registered
		}
	}

	var payload acceptInviteRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.Secret) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	level, invite, err := h.invites.Redeem(c.Request.Context(), strings.TrimSpace(payload.Secret), redeemer, redeemerEmail)
	if err != nil {
		h.respondDomainError(c, err)
		return
	}

	// The grant runs on the issuer's authority; the token was already
	// consumed, so a failure here must not resurrect it.
	note, err := h.engine.Share(c.Request.Context(), notes.UserID(invite.IssuerID), invite.NoteID, redeemer, level)
	if err != nil {
		h.logger.Error("invite grant failed after redemption",
			zap.Error(err),
			zap.String("invite_id", invite.InviteID),
			zap.String("note_id", invite.NoteID))
		h.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": string(level), "note": toNotePayload(note)})
}

func (h *httpHandler) respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, notes.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, notes.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, notes.ErrInvalidLevel), errors.Is(err, notes.ErrOwnerNotGrantable), errors.Is(err, invites.ErrInvalidGrant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, invites.ErrInviteInvalid):
		c.JSON(http.StatusNotFound, gin.H{"error": "invite_invalid"})
	case errors.Is(err, invites.ErrInviteUsed):
		c.JSON(http.StatusConflict, gin.H{"error": "invite_used"})
	case errors.Is(err, invites.ErrInviteExpired):
		c.JSON(http.StatusGone, gin.H{"error": "invite_expired"})
	case errors.Is(err, invites.ErrInviteEmailMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "invite_email_mismatch"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	}
}

func (h *httpHandler) handleUserRealtime(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	stream, cleanup := h.dispatcher.SubscribeUser(c.Request.Context(), userID)
	defer cleanup()
	h.streamEvents(c, stream)
}

func (h *httpHandler) handleNoteRealtime(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}

	// The dispatcher trusts its callers; read access is checked here.
	note, err := h.store.Load(c.Request.Context(), noteID)
	if err != nil {
		h.respondDomainError(c, err)
		return
	}
	if note.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if notes.Resolve(note, userID, notes.LevelRead) == notes.LevelNone {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	stream, cleanup := h.dispatcher.SubscribeDocument(c.Request.Context(), noteID)
	defer cleanup()
	h.streamEvents(c, stream)
}

type realtimeEventPayload struct {
	Type      string       `json:"type"`
	NoteID    string       `json:"note_id"`
	ActorID   string       `json:"actor_id"`
	Note      *notePayload `json:"note,omitempty"`
	Timestamp int64        `json:"timestamp_s"`
}

// streamEvents writes server-sent events until the client disconnects.
func (h *httpHandler) streamEvents(c *gin.Context, stream <-chan notes.Event) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-stream:
			if !open {
				return
			}
			payload := realtimeEventPayload{
				Type:      event.Type,
				NoteID:    event.NoteID,
				ActorID:   event.ActorID,
				Note:      toNotePayload(event.Note),
				Timestamp: event.Timestamp.Unix(),
			}
			encoded, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, encoded)
			flusher.Flush()
		}
	}
}
