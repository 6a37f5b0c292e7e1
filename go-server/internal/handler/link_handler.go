package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/middleware"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
	"github.com/fonsecaaso/linkpulse/go-server/internal/resolver"
	"github.com/fonsecaaso/linkpulse/go-server/internal/service"
)

type CreateLinkRequest struct {
	OriginalURL  string     `json:"original_url" binding:"required"`
	CustomAlias  string     `json:"custom_alias"`
	ExpiresAt    *time.Time `json:"expires_at"`
	RedirectType int        `json:"redirect_type"`
}

// UpdateLinkRequest treats an explicit "expires_at": null like clear_expiry.
type UpdateLinkRequest struct {
	ExpiresAt    optionalTime `json:"expires_at"`
	ClearExpiry  bool         `json:"clear_expiry"`
	RedirectType *int         `json:"redirect_type"`
}

type optionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *optionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

type LinkResponse struct {
	ShortURL     string     `json:"short_url"`
	ShortCode    string     `json:"short_code"`
	OriginalURL  string     `json:"original_url"`
	Destination  string     `json:"destination"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at"`
	RedirectType int        `json:"redirect_type"`
	Active       bool       `json:"active"`
	ClickCount   int64      `json:"click_count"`
}

type LinkListResponse struct {
	Items    []LinkResponse `json:"items"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type LinkHandler struct {
	links    *service.LinkService
	resolver *resolver.Resolver
	baseURL  string
	logger   *zap.Logger
}

func NewLinkHandler(links *service.LinkService, r *resolver.Resolver, baseURL string) *LinkHandler {
	return &LinkHandler{
		links:    links,
		resolver: r,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   zap.L().With(zap.String("component", "LinkHandler")),
	}
}

func (h *LinkHandler) toResponse(l *model.ShortLink) LinkResponse {
	return LinkResponse{
		ShortURL:     h.baseURL + "/" + l.Code,
		ShortCode:    l.Code,
		OriginalURL:  l.OriginalURL,
		Destination:  l.Destination,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
		ExpiresAt:    l.ExpiresAt,
		RedirectType: int(l.RedirectKind),
		Active:       l.Active,
		ClickCount:   l.ClickCount,
	}
}

func (h *LinkHandler) Create(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		respondError(c, http.StatusBadRequest, "Invalid request format", "INVALID_JSON")
		return
	}

	link, err := h.links.Create(c.Request.Context(), middleware.PrincipalFrom(c), service.CreateInput{
		URL:          req.OriginalURL,
		CustomAlias:  req.CustomAlias,
		ExpiresAt:    req.ExpiresAt,
		RedirectKind: req.RedirectType,
	})
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.Header("Location", h.baseURL+"/"+link.Code)
	c.JSON(http.StatusCreated, h.toResponse(link))
}

func (h *LinkHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(service.DefaultPageSize)))
	includeInactive, _ := strconv.ParseBool(c.DefaultQuery("include_inactive", "false"))

	result, err := h.links.ListMine(c.Request.Context(), middleware.PrincipalFrom(c), page, pageSize, includeInactive)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	items := make([]LinkResponse, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, h.toResponse(&result.Items[i]))
	}
	c.JSON(http.StatusOK, LinkListResponse{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

func (h *LinkHandler) Get(c *gin.Context) {
	link, err := h.links.Get(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("code"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(link))
}

func (h *LinkHandler) Update(c *gin.Context) {
	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		respondError(c, http.StatusBadRequest, "Invalid request format", "INVALID_JSON")
		return
	}

	upd := model.LinkUpdate{ClearExpiry: req.ClearExpiry}
	if req.ExpiresAt.Set {
		if req.ExpiresAt.Value == nil {
			upd.ClearExpiry = true
		} else {
			upd.ExpiresAt = req.ExpiresAt.Value
		}
	}
	if req.RedirectType != nil {
		kind := model.RedirectKind(*req.RedirectType)
		upd.RedirectKind = &kind
	}

	link, err := h.links.Update(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("code"), upd)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(link))
}

func (h *LinkHandler) Disable(c *gin.Context) {
	code := c.Param("code")
	if err := h.links.Disable(c.Request.Context(), middleware.PrincipalFrom(c), code); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"short_code": code, "active": false})
}

func (h *LinkHandler) Enable(c *gin.Context) {
	code := c.Param("code")
	if err := h.links.Enable(c.Request.Context(), middleware.PrincipalFrom(c), code); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"short_code": code, "active": true})
}

func (h *LinkHandler) Delete(c *gin.Context) {
	if err := h.links.Delete(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("code")); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Redirect sends the visitor to the link's destination. The visit is
// recorded after the response has been flushed.
func (h *LinkHandler) Redirect(c *gin.Context) {
	code := c.Param("code")
	if !service.ValidAlias(code) {
		respondError(c, http.StatusNotFound, "Short URL not found", "URL_NOT_FOUND")
		return
	}

	target, err := h.resolver.Resolve(c.Request.Context(), code)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "private, max-age=0")
	c.Redirect(int(target.RedirectKind), target.Destination)
	c.Writer.Flush()

	h.resolver.RecordVisit(c.Request.Context(), target.Code, resolver.Visit{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	})
}
