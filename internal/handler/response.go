package handler

import (
	"errors"
	"net/http"
	"strconv"

	"Community_Access/internal/pkg"

	"github.com/gin-gonic/gin"
)

// statusOf 错误分类到 HTTP 状态码
func statusOf(kind pkg.Kind) int {
	switch kind {
	case pkg.KindPermissionDenied:
		return http.StatusForbidden
	case pkg.KindInvalidTransition, pkg.KindConflictOnWrite:
		return http.StatusConflict
	case pkg.KindNotFound:
		return http.StatusNotFound
	case pkg.KindValidation:
		return http.StatusBadRequest
	case pkg.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出 {"msg","code","retryable"}，存储层内部细节不外泄
func fail(c *gin.Context, err error) {
	kind := pkg.KindOf(err)
	msg := "internal error"
	var e *pkg.Error
	switch {
	case kind == pkg.KindUnavailable:
		msg = "service temporarily unavailable, please retry"
	case kind == pkg.KindConflictOnWrite:
		msg = "the record changed concurrently, please retry"
	case errors.As(err, &e) && e.Msg != "":
		msg = e.Msg
	case kind != pkg.KindUnknown:
		msg = kind.String()
	}
	_ = c.Error(err)
	c.JSON(statusOf(kind), gin.H{
		"msg":       msg,
		"code":      kind.String(),
		"retryable": pkg.Retryable(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"msg": msg, "code": pkg.KindValidation.String(), "retryable": false})
}

func ok(c *gin.Context, data any) {
	if data == nil {
		c.JSON(http.StatusOK, gin.H{"msg": "ok"})
		return
	}
	c.JSON(http.StatusOK, data)
}

// idParam 解析路径中的正整数 id
func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
