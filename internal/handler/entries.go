package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/service"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// entryService is the business surface the handler needs.
// *service.EntryService satisfies this interface.
type entryService interface {
	SubmitMessage(ctx context.Context, content, collectionID string) (*ledger.CreateResult, error)
	SubmitFile(ctx context.Context, name string, data []byte, collectionID string) (*ledger.CreateResult, error)
	Get(ctx context.Context, transactionID, collectionID string) (*ledger.GetEntryResult, error)
	ListAll(ctx context.Context, collectionID string) ([]ledger.Entry, error)
	Status(ctx context.Context, transactionID string) (*ledger.TransactionStatus, error)
	Receipt(ctx context.Context, transactionID string) (*ledger.ReceiptResult, error)
	Collections(ctx context.Context) ([]ledger.Collection, error)
}

// IdentitySource supplies the PEM of the ledger identity certificate the
// gateway trusts. *identity.CertStore satisfies this interface.
type IdentitySource interface {
	PEM() []byte
}

// EntryHandler exposes the ledger facade over HTTP.
type EntryHandler struct {
	svc      entryService
	identity IdentitySource // nil = GET /identity reports 404
	logger   *zap.Logger
}

// NewEntryHandler creates a new EntryHandler.
func NewEntryHandler(svc entryService, logger *zap.Logger) *EntryHandler {
	return &EntryHandler{svc: svc, logger: logger}
}

// SetIdentitySource enables GET /ledger/identity.
func (h *EntryHandler) SetIdentitySource(src IdentitySource) { h.identity = src }

// Register mounts the ledger routes on the given router group.
func (h *EntryHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.POST("/upload/message", h.UploadMessage)
		l.POST("/upload/file", h.UploadFile)
		l.GET("/", h.List)
		l.GET("/collections", h.Collections)
		l.GET("/identity", h.Identity)
		l.GET("/:transactionId", h.Get)
		l.GET("/:transactionId/status", h.Status)
		l.GET("/:transactionId/receipt", h.Receipt)
	}
}

type uploadMessageRequest struct {
	CollectionID string  `json:"collectionId"`
	Content      *string `json:"content" binding:"required"`
}

// UploadMessage handles POST /ledger/upload/message.
func (h *EntryHandler) UploadMessage(c *gin.Context) {
	var req uploadMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if tooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "request body too large"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "body must be JSON with a string field 'content'"})
		return
	}

	res, err := h.svc.SubmitMessage(c.Request.Context(), *req.Content, req.CollectionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "result": res})
}

// UploadFile handles POST /ledger/upload/file (multipart: file, collectionId).
func (h *EntryHandler) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "upload too large"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "multipart field 'file' is required"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("open uploaded file", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "could not read uploaded file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.logger.Error("read uploaded file", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "could not read uploaded file"})
		return
	}

	res, err := h.svc.SubmitFile(c.Request.Context(), fh.Filename, data, c.PostForm("collectionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "result": res})
}

// List handles GET /ledger/: all entries, optionally in one collection.
func (h *EntryHandler) List(c *gin.Context) {
	entries, err := h.svc.ListAll(c.Request.Context(), c.Query("collectionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Get handles GET /ledger/:transactionId. An entry still Loading after the
// pending policy is reported as 202.
func (h *EntryHandler) Get(c *gin.Context) {
	txID := c.Param("transactionId")
	res, err := h.svc.Get(c.Request.Context(), txID, c.Query("collectionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if res.State == ledger.StateLoading || res.Entry == nil {
		c.JSON(http.StatusAccepted, gin.H{"transactionId": txID, "state": ledger.StateLoading})
		return
	}
	c.JSON(http.StatusOK, res.Entry)
}

// Status handles GET /ledger/:transactionId/status.
func (h *EntryHandler) Status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Receipt handles GET /ledger/:transactionId/receipt.
func (h *EntryHandler) Receipt(c *gin.Context) {
	txID := c.Param("transactionId")
	r, err := h.svc.Receipt(c.Request.Context(), txID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if r.State == ledger.StateLoading {
		c.JSON(http.StatusAccepted, gin.H{"transactionId": txID, "state": ledger.StateLoading})
		return
	}
	c.JSON(http.StatusOK, r)
}

// Collections handles GET /ledger/collections.
func (h *EntryHandler) Collections(c *gin.Context) {
	cols, err := h.svc.Collections(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": cols})
}

// Identity handles GET /ledger/identity: the trusted ledger TLS certificate.
func (h *EntryHandler) Identity(c *gin.Context) {
	if h.identity == nil || len(h.identity.PEM()) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": "ledger identity certificate not loaded"})
		return
	}
	c.Data(http.StatusOK, "application/x-pem-file", h.identity.PEM())
}

var internalDetail = map[string]string{
	"create":      "failed to create entry",
	"get":         "failed to get entry",
	"list":        "failed to list entries",
	"status":      "failed to get transaction status",
	"receipt":     "failed to get receipt",
	"collections": "failed to list collections",
}

// writeError maps a service failure to the facade's error contract:
// rejections and unknown transactions are 400 with the service's message,
// anything unexpected is a generic 401.
func (h *EntryHandler) writeError(c *gin.Context, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		se = &service.Error{Kind: service.KindInternal, Op: "create", Err: err}
		if c.Request.Method == http.MethodGet {
			se.Op = "get"
		}
	}

	switch se.Kind {
	case service.KindServiceRejected:
		c.JSON(http.StatusBadRequest, gin.H{"detail": "ledger error: " + se.Message()})
	case service.KindNotFound:
		c.JSON(http.StatusBadRequest, gin.H{"detail": "ledger error: entry not found: " + se.Message()})
	default:
		h.logger.Error("ledger operation failed",
			zap.String("op", se.Op),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		detail, ok := internalDetail[se.Op]
		if !ok {
			detail = "failed to " + se.Op + " entry"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"detail": detail})
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
