package handler

import (
	"Community_Access/internal/middleware"
	"Community_Access/internal/model"
	"Community_Access/internal/service"

	"github.com/gin-gonic/gin"
)

type ResourceHandler struct {
	svc *service.ModerationService
}

func NewResourceHandler(svc *service.ModerationService) *ResourceHandler {
	return &ResourceHandler{svc: svc}
}

type submitReq struct {
	Title      string                   `json:"title" binding:"required"`
	URL        string                   `json:"url"`
	Visibility model.ResourceVisibility `json:"visibility"`
}

type reviewReq struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type bulkReq struct {
	IDs    []uint64 `json:"ids" binding:"required"`
	Reason string   `json:"reason"`
	Notes  string   `json:"notes"`
}

func (h *ResourceHandler) List(c *gin.Context) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	status := model.ResourceStatus(c.Query("status"))
	list, err := h.svc.ListResources(c.Request.Context(), middleware.UserID(c), cid, status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"list": list})
}

func (h *ResourceHandler) Submit(c *gin.Context) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	r, err := h.svc.SubmitResource(c.Request.Context(), middleware.UserID(c), cid, service.ResourceInput{
		Title:      req.Title,
		URL:        req.URL,
		Visibility: req.Visibility,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, r)
}

func (h *ResourceHandler) Approve(c *gin.Context) {
	h.review(c, func(actor, rid uint64, req reviewReq) (*model.Resource, error) {
		return h.svc.ApproveResource(c.Request.Context(), actor, rid, req.Notes)
	})
}

func (h *ResourceHandler) Reject(c *gin.Context) {
	h.review(c, func(actor, rid uint64, req reviewReq) (*model.Resource, error) {
		return h.svc.RejectResource(c.Request.Context(), actor, rid, req.Reason, req.Notes)
	})
}

func (h *ResourceHandler) Archive(c *gin.Context) {
	h.review(c, func(actor, rid uint64, _ reviewReq) (*model.Resource, error) {
		return h.svc.ArchiveResource(c.Request.Context(), actor, rid)
	})
}

func (h *ResourceHandler) Report(c *gin.Context) {
	h.review(c, func(actor, rid uint64, req reviewReq) (*model.Resource, error) {
		return h.svc.ReportResource(c.Request.Context(), actor, rid, req.Reason)
	})
}

func (h *ResourceHandler) Resubmit(c *gin.Context) {
	h.review(c, func(actor, rid uint64, _ reviewReq) (*model.Resource, error) {
		return h.svc.ResubmitResource(c.Request.Context(), actor, rid)
	})
}

func (h *ResourceHandler) review(c *gin.Context, call func(actorID, resourceID uint64, req reviewReq) (*model.Resource, error)) {
	rid, valid := idParam(c, "rid")
	if !valid {
		return
	}
	var req reviewReq
	if !bindOptional(c, &req) {
		return
	}
	r, err := call(middleware.UserID(c), rid, req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, r)
}

// BulkApprove 部分失败时仍返回 200，逐项结果在响应体里
func (h *ResourceHandler) BulkApprove(c *gin.Context) {
	var req bulkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	ok(c, h.svc.BulkApprove(c.Request.Context(), middleware.UserID(c), req.IDs, req.Notes))
}

func (h *ResourceHandler) BulkReject(c *gin.Context) {
	var req bulkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	ok(c, h.svc.BulkReject(c.Request.Context(), middleware.UserID(c), req.IDs, req.Reason))
}
