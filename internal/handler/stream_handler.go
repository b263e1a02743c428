package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"Community_Access/internal/middleware"
	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/realtime"
	"Community_Access/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler 通过 websocket 推送成员列表与资源列表的实时快照
type StreamHandler struct {
	svc      *service.ModerationService
	hub      *realtime.Hub
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewStreamHandler(svc *service.ModerationService, hub *realtime.Hub, log logrus.FieldLogger) *StreamHandler {
	if log == nil {
		log = pkg.Discard()
	}
	return &StreamHandler{
		svc: svc,
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// streamRequest 客户端上行消息，目前只有切换资源状态过滤
type streamRequest struct {
	Action string               `json:"action"`
	Status model.ResourceStatus `json:"status"`
}

type streamError struct {
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	Retryable bool   `json:"retryable"`
}

type streamMessage struct {
	Type    string       `json:"type"` // session, snapshot, error
	Session string       `json:"session,omitempty"`
	Filter  string       `json:"filter,omitempty"`
	Loading bool         `json:"loading"`
	Data    any          `json:"data,omitempty"`
	Error   *streamError `json:"error,omitempty"`
}

func toStreamError(err error) *streamError {
	if err == nil {
		return nil
	}
	kind := pkg.KindOf(err)
	msg := kind.String()
	var e *pkg.Error
	if errors.As(err, &e) && e.Msg != "" && kind != pkg.KindUnavailable {
		msg = e.Msg
	}
	return &streamError{Code: kind.String(), Msg: msg, Retryable: pkg.Retryable(err)}
}

func (h *StreamHandler) Members(c *gin.Context) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	viewer := middleware.UserID(c)
	scope, err := h.svc.Scope(c.Request.Context(), viewer, cid)
	if err != nil {
		fail(c, err)
		return
	}
	conn, log, opened := h.upgrade(c, cid, "members")
	if !opened {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ms, err := h.hub.WatchMembers(ctx, h.svc.ListerFor(viewer), cid, scope.Member)
	if ms == nil {
		log.WithError(err).Warn("watch members")
		return
	}
	defer ms.Close()
	if closeOnDenied(conn, log, err) {
		return
	}

	pump(ctx, conn, log, ms.Stream, h.recheck(viewer, cid, scope), func() string { return "" }, func(context.Context, streamRequest) error {
		return pkg.Validation("stream.members", "member streams accept no requests")
	})
}

func (h *StreamHandler) Resources(c *gin.Context) {
	cid, valid := idParam(c, "id")
	if !valid {
		return
	}
	viewer := middleware.UserID(c)
	scope, err := h.svc.Scope(c.Request.Context(), viewer, cid)
	if err != nil {
		fail(c, err)
		return
	}
	status, err := allowedFilter(scope, model.ResourceStatus(c.Query("status")))
	if err != nil {
		fail(c, err)
		return
	}
	conn, log, opened := h.upgrade(c, cid, "resources")
	if !opened {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rs, err := h.hub.WatchResources(ctx, h.svc.ListerFor(viewer), cid, status, scope.Resource)
	if rs == nil {
		log.WithError(err).Warn("watch resources")
		return
	}
	defer rs.Close()
	if closeOnDenied(conn, log, err) {
		return
	}

	filter := func() string { return string(rs.Filter()) }
	pump(ctx, conn, log, rs.Stream, h.recheck(viewer, cid, scope), filter, func(ctx context.Context, req streamRequest) error {
		if req.Action != "filter" {
			return pkg.Validation("stream.resources", "unknown action %q", req.Action)
		}
		next, err := allowedFilter(scope, req.Status)
		if err != nil {
			return err
		}
		if err := rs.SetFilter(ctx, next); err != nil {
			log.WithError(err).Warn("switch resource filter")
		}
		return nil
	})
}

// closeOnDenied 初始加载被拒绝时下发错误并结束会话；瞬时失败保留会话，错误随快照下发
func closeOnDenied(conn *websocket.Conn, log logrus.FieldLogger, err error) bool {
	if err == nil || pkg.Retryable(err) {
		return false
	}
	log.WithError(err).Info("stream denied")
	_ = write(conn, streamMessage{Type: "error", Error: toStreamError(err)})
	return true
}

// recheck 推送前重新读取查看者的范围，范围收窄（被降级、被移出）后结束会话
func (h *StreamHandler) recheck(viewer, communityID uint64, granted service.ViewerScope) func(context.Context) error {
	return func(ctx context.Context) error {
		now, err := h.svc.Scope(ctx, viewer, communityID)
		if err != nil {
			if pkg.Retryable(err) {
				return nil
			}
			return err
		}
		if !now.Covers(granted) {
			return pkg.PermissionDenied("stream.scope", "viewer scope changed, reconnect")
		}
		return nil
	}
}

// allowedFilter 没有审核权限的查看者只能订阅已通过的资源
func allowedFilter(scope service.ViewerScope, status model.ResourceStatus) (model.ResourceStatus, error) {
	const op = "stream.filter"
	if status != "" && !status.Valid() {
		return "", pkg.Validation(op, "unknown status %q", status)
	}
	if scope.SeesAllResources {
		return status, nil
	}
	switch status {
	case "", model.ResourceApproved:
		return model.ResourceApproved, nil
	default:
		return "", pkg.PermissionDenied(op, "only approved resources are visible")
	}
}

func (h *StreamHandler) upgrade(c *gin.Context, communityID uint64, topic string) (*websocket.Conn, logrus.FieldLogger, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return nil, nil, false
	}
	session := uuid.NewString()
	log := h.log.WithFields(logrus.Fields{
		"session":      session,
		"community_id": communityID,
		"user_id":      middleware.UserID(c),
		"stream":       topic,
	})
	log.Info("stream opened")
	if err := write(conn, streamMessage{Type: "session", Session: session}); err != nil {
		_ = conn.Close()
		return nil, nil, false
	}
	return conn, log, true
}

// pump 所有写操作都在当前协程完成，读协程只负责解析上行消息
func pump[T any](ctx context.Context, conn *websocket.Conn, log logrus.FieldLogger, st *realtime.Stream[T],
	recheck func(context.Context) error, filter func() string, handle func(context.Context, streamRequest) error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dirty := make(chan struct{}, 1)
	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	defer st.OnChange(func(realtime.Snapshot[T]) { mark() })()

	replies := make(chan streamMessage, 8)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			var req streamRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if err := handle(ctx, req); err != nil {
				select {
				case replies <- streamMessage{Type: "error", Error: toStreamError(err)}:
				case <-ctx.Done():
					return
				}
				continue
			}
			mark()
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	mark()
	for {
		select {
		case <-ctx.Done():
			log.Info("stream closed")
			return
		case <-dirty:
			if err := recheck(ctx); err != nil {
				log.WithError(err).Info("stream scope revoked")
				_ = write(conn, streamMessage{Type: "error", Error: toStreamError(err)})
				return
			}
			snap := st.Snapshot()
			msg := streamMessage{Type: "snapshot", Filter: filter(), Loading: snap.Loading, Data: snap.Data, Error: toStreamError(snap.Err)}
			if err := write(conn, msg); err != nil {
				return
			}
		case msg := <-replies:
			if err := write(conn, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
