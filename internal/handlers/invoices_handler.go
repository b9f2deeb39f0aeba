package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-invoice-service/internal/invoices"
	"github.com/imrishuroy/go-invoice-service/internal/render"
	"github.com/imrishuroy/go-invoice-service/internal/validation"
)

const (
	msgNotFound    = "Not found"
	msgDeleted     = "Deleted"
	msgServerError = "Server error"
)

// InvoiceService is the behaviour the routes need from invoices.Service.
type InvoiceService interface {
	Create(ctx context.Context, req validation.InvoiceRequest) (*invoices.Invoice, error)
	Update(ctx context.Context, id string, req validation.InvoiceRequest) (*invoices.Invoice, error)
	Get(ctx context.Context, id string) (*invoices.Invoice, error)
	List(ctx context.Context) ([]invoices.Invoice, error)
	Delete(ctx context.Context, id string) error
}

type invoiceHandler struct {
	svc    InvoiceService
	logger *zap.Logger
}

// RegisterInvoiceRoutes registers the invoice CRUD and PDF routes under rg.
func RegisterInvoiceRoutes(rg *gin.RouterGroup, svc InvoiceService, logger *zap.Logger) {
	h := &invoiceHandler{svc: svc, logger: logger}

	g := rg.Group("/invoices")
	g.POST("", h.create)
	g.POST("/", h.create)
	g.GET("", h.list)
	g.GET("/", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/pdf", h.pdf)
}

func (h *invoiceHandler) create(c *gin.Context) {
	var req validation.InvoiceRequest
	if err := validation.BindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	inv, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/api/invoices/%s", inv.ID))
	c.JSON(http.StatusCreated, inv)
}

func (h *invoiceHandler) list(c *gin.Context) {
	invs, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, invs)
}

func (h *invoiceHandler) get(c *gin.Context) {
	inv, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *invoiceHandler) update(c *gin.Context) {
	var req validation.InvoiceRequest
	if err := validation.BindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	inv, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *invoiceHandler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msgDeleted})
}

func (h *invoiceHandler) pdf(c *gin.Context) {
	inv, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := render.PDF(&buf, inv); err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=invoice-%d.pdf", inv.InvoiceNumber))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// fail maps service errors to responses. Unexpected errors are logged and
// hidden behind a generic message.
func (h *invoiceHandler) fail(c *gin.Context, err error) {
	var verr *validation.ValidationError
	var serr *validation.SchemaError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Errors})
	case errors.As(err, &serr):
		c.JSON(http.StatusBadRequest, gin.H{"message": serr.Message})
	case errors.Is(err, invoices.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": msgNotFound})
	default:
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"message": msgServerError})
	}
}
