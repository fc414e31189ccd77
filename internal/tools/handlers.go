package tools

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Invalidator is notified when a tenant's tool set changes so that any
// built MCP session can be rebuilt on next use.
type Invalidator interface {
	Invalidate(tenant string)
}

// Handler provides HTTP endpoints for tool descriptor management
type Handler struct {
	registry *Registry
	sessions Invalidator // nil = nothing to invalidate
	logger   *slog.Logger
}

// NewHandler creates a new tools handler
func NewHandler(registry *Registry, sessions Invalidator, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, sessions: sessions, logger: logger}
}

// RegisterRoutes sets up tool descriptor routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:tenant/tools", h.Create)
	r.GET("/tenants/:tenant/tools", h.List)
	r.GET("/tenants/:tenant/tools/:id", h.Get)
	r.PUT("/tenants/:tenant/tools/:id", h.Update)
	r.DELETE("/tenants/:tenant/tools/:id", h.Delete)
}

func (h *Handler) invalidate(tenant string) {
	if h.sessions != nil {
		h.sessions.Invalidate(tenant)
	}
}

// Create handles POST /tenants/:tenant/tools
func (h *Handler) Create(c *gin.Context) {
	var d Descriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	d.Tenant = c.Param("tenant")

	err := h.registry.Register(c.Request.Context(), &d)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDescriptor):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_descriptor",
				"message": err.Error(),
			})
		case errors.Is(err, ErrDuplicateName):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_name",
				"message": "A tool with this name already exists for the tenant",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "registry_error",
				"message": "Failed to register tool",
			})
		}
		return
	}

	h.invalidate(d.Tenant)
	h.logger.Info("tool registered", "tenant", d.Tenant, "tool", d.Name, "id", d.ID)
	c.JSON(http.StatusCreated, gin.H{"tool": d})
}

// List handles GET /tenants/:tenant/tools
func (h *Handler) List(c *gin.Context) {
	list, err := h.registry.ListByTenant(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registry_error",
			"message": "Failed to list tools",
		})
		return
	}
	if list == nil {
		list = []*Descriptor{}
	}
	c.JSON(http.StatusOK, gin.H{"tools": list})
}

// Get handles GET /tenants/:tenant/tools/:id
func (h *Handler) Get(c *gin.Context) {
	d, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil || d.Tenant != c.Param("tenant") {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "tool_not_found",
			"message": "No such tool for tenant",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": d})
}

// Update handles PUT /tenants/:tenant/tools/:id
func (h *Handler) Update(c *gin.Context) {
	existing, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil || existing.Tenant != c.Param("tenant") {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "tool_not_found",
			"message": "No such tool for tenant",
		})
		return
	}

	var d Descriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	d.ID = existing.ID
	d.Tenant = existing.Tenant
	d.CreatedAt = existing.CreatedAt

	err = h.registry.Update(c.Request.Context(), &d)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDescriptor):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_descriptor",
				"message": err.Error(),
			})
		case errors.Is(err, ErrDuplicateName):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_name",
				"message": "A tool with this name already exists for the tenant",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "registry_error",
				"message": "Failed to update tool",
			})
		}
		return
	}

	h.invalidate(d.Tenant)
	c.JSON(http.StatusOK, gin.H{"tool": d})
}

// Delete handles DELETE /tenants/:tenant/tools/:id. Deleting an unknown
// tool succeeds.
func (h *Handler) Delete(c *gin.Context) {
	tenant := c.Param("tenant")
	id := c.Param("id")

	// Scope the delete to the tenant before removing.
	if d, err := h.registry.Get(c.Request.Context(), id); err == nil && d.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "tool_not_found",
			"message": "No such tool for tenant",
		})
		return
	}

	if err := h.registry.Remove(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registry_error",
			"message": "Failed to remove tool",
		})
		return
	}

	h.invalidate(tenant)
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
