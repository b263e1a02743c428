package router

import (
	"Community_Access/internal/handler"
	"Community_Access/internal/middleware"
	"Community_Access/internal/pkg"
	"Community_Access/internal/realtime"
	"Community_Access/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps 路由需要的全部组件，由 main 装配
type Deps struct {
	Service *service.ModerationService
	Hub     *realtime.Hub
	Tokens  *pkg.JWT
	Limiter *middleware.RateLimiter
	Log     logrus.FieldLogger
	// DevTokens 为 true 时开放 /api/token/dev
	DevTokens bool
}

func InitRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = pkg.Discard()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Log))

	community := handler.NewCommunityHandler(d.Service)
	member := handler.NewMemberHandler(d.Service)
	resource := handler.NewResourceHandler(d.Service)
	stream := handler.NewStreamHandler(d.Service, d.Hub, d.Log)
	token := handler.NewTokenHandler(d.Tokens)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// token相关接口
	tokenGroup := r.Group("/api/token")
	{
		tokenGroup.POST("/refresh", token.Refresh)
		if d.DevTokens {
			tokenGroup.POST("/dev", token.Dev)
		}
	}

	auth := []gin.HandlerFunc{middleware.Auth(d.Tokens)}
	if d.Limiter != nil {
		auth = append(auth, d.Limiter.Middleware())
	}

	// 社区与成员关系
	communityGroup := r.Group("/api/community", auth...)
	{
		communityGroup.POST("", community.Create)
		communityGroup.GET("", community.List)
		communityGroup.GET("/:id", community.Get)
		communityGroup.POST("/:id/archive", community.Archive)
		communityGroup.POST("/:id/join", community.Join)
		communityGroup.POST("/:id/request", community.Request)
		communityGroup.DELETE("/:id/request", community.Withdraw)
		communityGroup.POST("/:id/leave", community.Leave)

		communityGroup.GET("/:id/members", member.List)
		communityGroup.POST("/:id/members/:uid/approve", member.Approve)
		communityGroup.POST("/:id/members/:uid/reject", member.Reject)
		communityGroup.PUT("/:id/members/:uid/role", member.ChangeRole)
		communityGroup.PUT("/:id/members/:uid/permissions", member.UpdatePermissions)
		communityGroup.POST("/:id/members/:uid/suspend", member.Suspend)
		communityGroup.POST("/:id/members/:uid/reinstate", member.Reinstate)
		communityGroup.DELETE("/:id/members/:uid", member.Remove)
		communityGroup.POST("/:id/bans", member.Ban)

		communityGroup.GET("/:id/resources", resource.List)
		communityGroup.POST("/:id/resources", resource.Submit)
		communityGroup.POST("/:id/resources/bulk-approve", resource.BulkApprove)
		communityGroup.POST("/:id/resources/bulk-reject", resource.BulkReject)
	}

	// 资源审核
	resourceGroup := r.Group("/api/resource", auth...)
	{
		resourceGroup.POST("/:rid/approve", resource.Approve)
		resourceGroup.POST("/:rid/reject", resource.Reject)
		resourceGroup.POST("/:rid/archive", resource.Archive)
		resourceGroup.POST("/:rid/report", resource.Report)
		resourceGroup.POST("/:rid/resubmit", resource.Resubmit)
	}

	// 实时订阅
	wsGroup := r.Group("/ws/community", middleware.StreamAuth(d.Tokens))
	{
		wsGroup.GET("/:id/members", stream.Members)
		wsGroup.GET("/:id/resources", stream.Resources)
	}

	return r
}
