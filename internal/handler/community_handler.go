package handler

import (
	"context"
	"strconv"

	"Community_Access/internal/middleware"
	"Community_Access/internal/model"
	"Community_Access/internal/service"

	"github.com/gin-gonic/gin"
)

type CommunityHandler struct {
	svc *service.ModerationService
}

type CommunityCreateReq struct {
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	Visibility  model.Visibility `json:"visibility"`
	JoinPolicy  model.JoinPolicy `json:"join_policy"`
}

func NewCommunityHandler(svc *service.ModerationService) *CommunityHandler {
	return &CommunityHandler{svc: svc}
}

func (h *CommunityHandler) Create(c *gin.Context) {
	var req CommunityCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	community, err := h.svc.CreateCommunity(c.Request.Context(), middleware.UserID(c), service.CreateCommunityInput{
		Name:        req.Name,
		Description: req.Description,
		Visibility:  req.Visibility,
		JoinPolicy:  req.JoinPolicy,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, community)
}

func (h *CommunityHandler) Get(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	community, err := h.svc.GetCommunity(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, community)
}

func (h *CommunityHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))

	list, err := h.svc.ListCommunities(c.Request.Context(), page, size)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"list": list})
}

func (h *CommunityHandler) Archive(c *gin.Context) {
	h.self(c, func(uid, cid uint64) error {
		return h.svc.ArchiveCommunity(c.Request.Context(), uid, cid)
	})
}

func (h *CommunityHandler) Join(c *gin.Context) {
	h.enter(c, h.svc.JoinCommunity)
}

func (h *CommunityHandler) Request(c *gin.Context) {
	h.enter(c, h.svc.RequestToJoin)
}

func (h *CommunityHandler) Withdraw(c *gin.Context) {
	h.self(c, func(uid, cid uint64) error {
		return h.svc.WithdrawRequest(c.Request.Context(), uid, cid)
	})
}

func (h *CommunityHandler) Leave(c *gin.Context) {
	h.self(c, func(uid, cid uint64) error {
		return h.svc.LeaveCommunity(c.Request.Context(), uid, cid)
	})
}

type enterFunc func(ctx context.Context, userID, communityID uint64) (*model.Membership, error)

func (h *CommunityHandler) enter(c *gin.Context, call enterFunc) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	m, err := call(c.Request.Context(), middleware.UserID(c), cid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, m)
}

// self 当前用户对自己的成员关系或社区本身发起的操作
func (h *CommunityHandler) self(c *gin.Context, call func(userID, communityID uint64) error) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	if err := call(middleware.UserID(c), cid); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
