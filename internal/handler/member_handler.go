package handler

import (
	"Community_Access/internal/middleware"
	"Community_Access/internal/model"
	"Community_Access/internal/service"

	"github.com/gin-gonic/gin"
)

// MemberHandler 成员审核：审批、角色、授权、停权、踢出与封禁
type MemberHandler struct {
	svc *service.ModerationService
}

func NewMemberHandler(svc *service.ModerationService) *MemberHandler {
	return &MemberHandler{svc: svc}
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type roleReq struct {
	Role model.Role `json:"role" binding:"required"`
}

type permissionsReq struct {
	Permissions []string `json:"permissions"`
}

type banReq struct {
	UserID        uint64 `json:"user_id" binding:"required"`
	Reason        string `json:"reason"`
	DurationHours *int   `json:"duration_hours"`
}

func (h *MemberHandler) List(c *gin.Context) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	list, err := h.svc.ListMembers(c.Request.Context(), middleware.UserID(c), cid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"list": list})
}

func (h *MemberHandler) Approve(c *gin.Context) {
	h.target(c, func(actor, cid, uid uint64) (any, error) {
		return h.svc.ApproveRequest(c.Request.Context(), actor, cid, uid)
	})
}

func (h *MemberHandler) Reject(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	h.target(c, func(actor, cid, uid uint64) (any, error) {
		return nil, h.svc.RejectRequest(c.Request.Context(), actor, cid, uid, req.Reason)
	})
}

func (h *MemberHandler) ChangeRole(c *gin.Context) {
	var req roleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	h.target(c, func(actor, cid, uid uint64) (any, error) {
		return h.svc.ChangeMemberRole(c.Request.Context(), actor, cid, uid, req.Role)
	})
}

func (h *MemberHandler) UpdatePermissions(c *gin.Context) {
	var req permissionsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	h.target(c, func(actor, cid, uid uint64) (any, error) {
		return h.svc.UpdatePermissions(c.Request.Context(), actor, cid, uid, req.Permissions)
	})
}

func (h *MemberHandler) Suspend(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	h.target(c, func(actor, cid, uid uint64) (any, error) {
		return h.svc.SuspendMember(c.Request.Context(), actor, cid, uid, req.Reason)
	})
}

func (h *MemberHandler) Reinstate(c *gin.Context) {
	h.target(c, func(actor, cid, uid uint64) (any, error) {
		return h.svc.ReinstateMember(c.Request.Context(), actor, cid, uid)
	})
}

func (h *MemberHandler) Remove(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	h.target(c, func(actor, cid, uid uint64) (any, error) {
		return nil, h.svc.RemoveMember(c.Request.Context(), actor, cid, uid, req.Reason)
	})
}

func (h *MemberHandler) Ban(c *gin.Context) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req banReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	ban, err := h.svc.CreateBan(c.Request.Context(), middleware.UserID(c), cid, service.BanInput{
		UserID:        req.UserID,
		Reason:        req.Reason,
		DurationHours: req.DurationHours,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, ban)
}

// target 路径形如 /community/:id/members/:uid 的操作
func (h *MemberHandler) target(c *gin.Context, call func(actorID, communityID, userID uint64) (any, error)) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	uid, valid := idParam(c, "uid")
	if !valid {
		return
	}
	res, err := call(middleware.UserID(c), cid, uid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

// bindOptional 请求体可以为空
func bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "invalid params")
		return false
	}
	return true
}
