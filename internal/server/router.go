package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lyceum-labs/curricula/backend/internal/blob"
	"github.com/lyceum-labs/curricula/backend/internal/curriculum"
	"github.com/lyceum-labs/curricula/backend/internal/dragdrop"
	"github.com/lyceum-labs/curricula/backend/internal/vault"
	"go.uber.org/zap"
)

const (
	editorSubjectContextKey = "curricula_editor_subject"
	editorSubject           = "editor"

	maxMediaUploadBytes = 1 << 30
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingEditorKey     = errors.New("editor key dependency required")
	errMissingRegistry      = errors.New("curriculum registry dependency required")
	errMissingDispatcher    = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// BackendTokenManager issues and validates editor session tokens.
type BackendTokenManager interface {
	IssueEditorToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// CoursePublisher submits a finished course tree to the LMS backend.
type CoursePublisher interface {
	Publish(ctx context.Context, course curriculum.Course) error
}

// BlobReader serves media payload downloads.
type BlobReader interface {
	Get(ctx context.Context, key string) (*blob.Object, error)
}

// Dependencies wires the HTTP surface to the authoring core.
type Dependencies struct {
	TokenManager BackendTokenManager
	EditorKey    string
	Registry     *curriculum.Registry
	Publisher    CoursePublisher
	Blobs        BlobReader
	Dispatcher   *RealtimeDispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler builds the editor REST surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if strings.TrimSpace(deps.EditorKey) == "" {
		return nil, errMissingEditorKey
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
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
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		editorKey:  deps.EditorKey,
		registry:   deps.Registry,
		publisher:  deps.Publisher,
		blobs:      deps.Blobs,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		engines:    make(map[string]*dragdrop.Engine),
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/courses/:courseID", handler.handleGetCourse)
	protected.PATCH("/courses/:courseID", handler.handleUpdateCourse)
	protected.DELETE("/courses/:courseID", handler.handlePurgeCourse)
	protected.POST("/courses/:courseID/publish", handler.handlePublishCourse)
	protected.POST("/courses/:courseID/drag", handler.handleDragEvent)
	protected.GET("/courses/:courseID/events", handler.handleCourseEvents)
	protected.POST("/courses/:courseID/chapters", handler.handleAddChapter)
	protected.PUT("/courses/:courseID/chapters/order", handler.handleReorderChapters)
	protected.PATCH("/courses/:courseID/chapters/:chapterID", handler.handleUpdateChapter)
	protected.DELETE("/courses/:courseID/chapters/:chapterID", handler.handleDeleteChapter)
	protected.POST("/courses/:courseID/chapters/:chapterID/lectures", handler.handleAddLecture)
	protected.PUT("/courses/:courseID/chapters/:chapterID/lectures/order", handler.handleReorderLectures)
	protected.PATCH("/courses/:courseID/chapters/:chapterID/lectures/:lectureID", handler.handleUpdateLecture)
	protected.DELETE("/courses/:courseID/chapters/:chapterID/lectures/:lectureID", handler.handleDeleteLecture)
	protected.PUT("/courses/:courseID/chapters/:chapterID/lectures/:lectureID/media/:kind", handler.handleAttachMedia)
	protected.GET("/courses/:courseID/chapters/:chapterID/lectures/:lectureID/media/:kind", handler.handleDownloadMedia)
	protected.DELETE("/courses/:courseID/chapters/:chapterID/lectures/:lectureID/media/:kind", handler.handleDetachMedia)

	return router, nil
}

type httpHandler struct {
	tokens     BackendTokenManager
	editorKey  string
	registry   *curriculum.Registry
	publisher  CoursePublisher
	blobs      BlobReader
	dispatcher *RealtimeDispatcher
	logger     *zap.Logger

	enginesMu sync.Mutex
	engines   map[string]*dragdrop.Engine
}

type tokenRequestPayload struct {
	EditorKey string `json:"editor_key"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.EditorKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(request.EditorKey), []byte(h.editorKey)) != 1 {
		h.logger.Warn("editor key exchange rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueEditorToken(c.Request.Context(), editorSubject)
	if err != nil {
		h.logger.Error("failed to issue editor token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(editorSubjectContextKey, subject)
	c.Next()
}

// storeFor resolves the live per-course store, creating it on first access.
// All responses for an unusable store are written here.
func (h *httpHandler) storeFor(c *gin.Context) (*curriculum.Store, bool) {
	courseID, err := curriculum.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return nil, false
	}

	store, err := h.registry.Get(c.Request.Context(), courseID)
	if err != nil {
		if errors.Is(err, vault.ErrCorruptedState) {
			h.logger.Error("course snapshot is corrupted", zap.String("course_id", courseID.String()), zap.Error(err))
			c.JSON(http.StatusConflict, gin.H{"error": "state_corrupted"})
			return nil, false
		}
		h.logger.Error("failed to open course store", zap.String("course_id", courseID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_unavailable"})
		return nil, false
	}
	return store, true
}

func (h *httpHandler) engineFor(store *curriculum.Store) *dragdrop.Engine {
	h.enginesMu.Lock()
	defer h.enginesMu.Unlock()

	key := store.CourseID().String()
	engine, ok := h.engines[key]
	if !ok {
		engine = dragdrop.NewEngine(store)
		h.engines[key] = engine
	}
	return engine
}

func (h *httpHandler) dropEngine(courseID curriculum.CourseID) {
	h.enginesMu.Lock()
	delete(h.engines, courseID.String())
	h.enginesMu.Unlock()
}

func (h *httpHandler) handleGetCourse(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

type fieldUpdatePayload struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (h *httpHandler) handleUpdateCourse(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	var request fieldUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	field, err := curriculum.ParseCourseField(request.Field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_field"})
		return
	}
	if err := store.UpdateCourse(c.Request.Context(), field, request.Value); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (h *httpHandler) handlePurgeCourse(c *gin.Context) {
	courseID, err := curriculum.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	if err := h.registry.Purge(c.Request.Context(), courseID); err != nil {
		h.logger.Error("course purge failed", zap.String("course_id", courseID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge_failed"})
		return
	}
	h.dropEngine(courseID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePublishCourse(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publish_unconfigured"})
		return
	}
	store, ok := h.storeFor(c)
	if !ok {
		return
	}

	course := store.Snapshot()
	if err := h.publisher.Publish(c.Request.Context(), course); err != nil {
		h.logger.Error("course publish failed", zap.String("course_id", course.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "publish_failed"})
		return
	}

	if err := h.registry.Purge(c.Request.Context(), store.CourseID()); err != nil {
		h.logger.Error("post-publish purge failed", zap.String("course_id", course.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge_failed"})
		return
	}
	h.dropEngine(store.CourseID())
	c.JSON(http.StatusOK, gin.H{"published": true})
}

type dragEventPayload struct {
	Phase     string `json:"phase"`
	DraggedID string `json:"dragged_id"`
	TargetID  string `json:"target_id"`
}

func (h *httpHandler) handleDragEvent(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	var request dragEventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	engine := h.engineFor(store)
	switch strings.ToLower(strings.TrimSpace(request.Phase)) {
	case "begin":
		engine.Begin(request.DraggedID)
	case "over":
		engine.Over(request.TargetID)
	case "end":
		if err := engine.End(c.Request.Context(), request.TargetID); err != nil {
			h.respondStoreError(c, err)
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phase"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCourseEvents(c *gin.Context) {
	courseID, err := curriculum.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}

	stream, cancel := h.dispatcher.Subscribe(c.Request.Context(), courseID.String())
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, gin.H{
				"course_id": message.CourseID,
				"timestamp": message.Timestamp.UTC().Unix(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC().Unix()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) handleAddChapter(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	chapter, err := store.AddChapter(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chapter)
}

type reorderChaptersPayload struct {
	ChapterIDs []string `json:"chapter_ids"`
}

func (h *httpHandler) handleReorderChapters(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	var request reorderChaptersPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	course := store.Snapshot()
	byID := make(map[string]curriculum.Chapter, len(course.Chapters))
	for _, chapter := range course.Chapters {
		byID[chapter.ID] = chapter
	}
	if len(request.ChapterIDs) != len(byID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incomplete_order"})
		return
	}
	reordered := make([]curriculum.Chapter, 0, len(request.ChapterIDs))
	for _, chapterID := range request.ChapterIDs {
		chapter, found := byID[chapterID]
		if !found {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_chapter"})
			return
		}
		delete(byID, chapterID)
		reordered = append(reordered, chapter)
	}

	if err := store.SetChapters(c.Request.Context(), reordered); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (h *httpHandler) handleUpdateChapter(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	var request fieldUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	field, err := curriculum.ParseChapterField(request.Field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_field"})
		return
	}
	if err := store.UpdateChapter(c.Request.Context(), c.Param("chapterID"), field, request.Value); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (h *httpHandler) handleDeleteChapter(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	if err := store.DeleteChapter(c.Request.Context(), c.Param("chapterID")); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddLecture(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	lecture, err := store.AddLecture(c.Request.Context(), c.Param("chapterID"))
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	if lecture == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chapter_not_found"})
		return
	}
	c.JSON(http.StatusCreated, lecture)
}

type reorderLecturesPayload struct {
	LectureIDs []string `json:"lecture_ids"`
}

func (h *httpHandler) handleReorderLectures(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	var request reorderLecturesPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	chapterID := c.Param("chapterID")
	course := store.Snapshot()
	var lectures []curriculum.Lecture
	for _, chapter := range course.Chapters {
		if chapter.ID == chapterID {
			lectures = chapter.Lectures
			break
		}
	}
	if lectures == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chapter_not_found"})
		return
	}

	byID := make(map[string]curriculum.Lecture, len(lectures))
	for _, lecture := range lectures {
		byID[lecture.ID] = lecture
	}
	if len(request.LectureIDs) != len(byID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incomplete_order"})
		return
	}
	reordered := make([]curriculum.Lecture, 0, len(request.LectureIDs))
	for _, lectureID := range request.LectureIDs {
		lecture, found := byID[lectureID]
		if !found {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_lecture"})
			return
		}
		delete(byID, lectureID)
		reordered = append(reordered, lecture)
	}

	if err := store.SetLectures(c.Request.Context(), chapterID, reordered); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (h *httpHandler) handleUpdateLecture(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	var request fieldUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	field, err := curriculum.ParseLectureField(request.Field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_field"})
		return
	}
	if err := store.UpdateLecture(c.Request.Context(), c.Param("chapterID"), c.Param("lectureID"), field, request.Value); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (h *httpHandler) handleDeleteLecture(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	if err := store.DeleteLecture(c.Request.Context(), c.Param("chapterID"), c.Param("lectureID")); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAttachMedia(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	kind, err := curriculum.ParseMediaKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_media_kind"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	if fileHeader.Size > maxMediaUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}

	lastModified := time.Now()
	if raw := c.PostForm("last_modified_s"); raw != "" {
		if seconds, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil && seconds > 0 {
			lastModified = time.Unix(seconds, 0)
		}
	}

	ref, err := store.AttachMedia(c.Request.Context(), c.Param("chapterID"), c.Param("lectureID"), kind, curriculum.MediaUpload{
		Name:         fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		Content:      content,
		LastModified: lastModified,
	})
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	if ref == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "lecture_not_found"})
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (h *httpHandler) handleDownloadMedia(c *gin.Context) {
	if h.blobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "media_not_found"})
		return
	}
	kind, err := curriculum.ParseMediaKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_media_kind"})
		return
	}

	key := curriculum.MediaStorageKey(c.Param("lectureID"), kind)
	object, err := h.blobs.Get(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("media read failed", zap.String("storage_key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
		return
	}
	if object == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "media_not_found"})
		return
	}
	contentType := object.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, object.Content)
}

func (h *httpHandler) handleDetachMedia(c *gin.Context) {
	store, ok := h.storeFor(c)
	if !ok {
		return
	}
	kind, err := curriculum.ParseMediaKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_media_kind"})
		return
	}
	if err := store.DetachMedia(c.Request.Context(), c.Param("chapterID"), c.Param("lectureID"), kind); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondStoreError maps store failures onto HTTP responses, exposing the
// machine-readable code when the store produced one.
func (h *httpHandler) respondStoreError(c *gin.Context, err error) {
	var serviceErr *curriculum.ServiceError
	if errors.As(err, &serviceErr) {
		h.logger.Error("store operation failed", zap.String("code", serviceErr.Code()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErr.Code()})
		return
	}
	h.logger.Error("store operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
}
