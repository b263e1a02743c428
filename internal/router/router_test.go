package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Community_Access/internal/middleware"
	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/realtime"
	"Community_Access/internal/repository/memory"
	"Community_Access/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type app struct {
	t      *testing.T
	engine *gin.Engine
	tokens *pkg.JWT
}

func newApp(t *testing.T) *app {
	t.Helper()
	feed := realtime.NewLocalFeed()
	store := memory.NewStore(feed, nil, nil)
	tokens := pkg.NewJWT("access", "refresh", time.Hour, 24*time.Hour)
	engine := InitRouter(Deps{
		Service:   service.NewModerationService(store, nil, nil, nil),
		Hub:       realtime.NewHub(feed, nil),
		Tokens:    tokens,
		Limiter:   middleware.NewRateLimiter(1000, 1000),
		DevTokens: true,
	})
	return &app{t: t, engine: engine, tokens: tokens}
}

func (a *app) token(userID uint64) string {
	pair, err := a.tokens.GeneratePair(userID)
	require.NoError(a.t, err)
	return pair.AccessToken
}

func (a *app) do(userID uint64, method, path string, body any) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+a.token(userID))
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func (a *app) community(owner uint64, policy model.JoinPolicy) uint64 {
	a.t.Helper()
	code, body := a.do(owner, http.MethodPost, "/api/community", gin.H{"name": "gophers", "join_policy": policy})
	require.Equal(a.t, http.StatusOK, code, body)
	return uint64(body["id"].(float64))
}

func TestModeratorBanFlow(t *testing.T) {
	a := newApp(t)
	cid := a.community(1, model.JoinPolicyOpen)
	base := fmt.Sprintf("/api/community/%d", cid)

	code, _ := a.do(3, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, code)
	code, body := a.do(1, http.MethodPut, base+"/members/3/role", gin.H{"role": "moderator"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "moderator", body["role"])

	code, _ = a.do(5, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, code)

	code, body = a.do(3, http.MethodPost, base+"/bans", gin.H{"user_id": 5, "reason": "spam"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "spam", body["reason"])

	code, body = a.do(5, http.MethodPost, base+"/join", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", body["code"])
	assert.Equal(t, false, body["retryable"])

	// 普通成员不能处置版主
	code, _ = a.do(7, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, code)
	code, body = a.do(7, http.MethodDelete, base+"/members/3", gin.H{"reason": "x"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "permission_denied", body["code"])

	code, body = a.do(1, http.MethodGet, base+"/members", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["list"], 4)
}

func TestRequestApproval(t *testing.T) {
	a := newApp(t)
	cid := a.community(1, model.JoinPolicyApproval)
	base := fmt.Sprintf("/api/community/%d", cid)

	code, body := a.do(5, http.MethodPost, base+"/join", nil)
	assert.Equal(t, http.StatusConflict, code, body)

	code, body = a.do(5, http.MethodPost, base+"/request", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "pending", body["status"])

	code, body = a.do(1, http.MethodPost, base+"/members/5/approve", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "active", body["status"])

	code, _ = a.do(5, http.MethodPost, base+"/leave", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRequestValidation(t *testing.T) {
	a := newApp(t)
	cid := a.community(1, model.JoinPolicyOpen)

	tests := []struct {
		name   string
		user   uint64
		method string
		path   string
		body   any
		want   int
	}{
		{"unauthenticated", 0, http.MethodGet, "/api/community", nil, http.StatusUnauthorized},
		{"bad id", 1, http.MethodGet, "/api/community/abc", nil, http.StatusBadRequest},
		{"missing community", 1, http.MethodGet, "/api/community/999", nil, http.StatusNotFound},
		{"unknown role", 1, http.MethodPut, fmt.Sprintf("/api/community/%d/members/1/role", cid), gin.H{"role": "king"}, http.StatusBadRequest},
		{"ban without user", 1, http.MethodPost, fmt.Sprintf("/api/community/%d/bans", cid), gin.H{"reason": "x"}, http.StatusBadRequest},
		{"list", 1, http.MethodGet, "/api/community", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := a.do(tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code, body)
		})
	}
}

func TestResourceBulkApprove(t *testing.T) {
	a := newApp(t)
	cid := a.community(1, model.JoinPolicyOpen)
	base := fmt.Sprintf("/api/community/%d", cid)
	code, _ := a.do(5, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, code)

	var ids []uint64
	for _, title := range []string{"a", "b"} {
		code, body := a.do(5, http.MethodPost, base+"/resources", gin.H{"title": title})
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "pending", body["status"])
		ids = append(ids, uint64(body["id"].(float64)))
	}

	code, body := a.do(1, http.MethodPost, fmt.Sprintf("/api/resource/%d/reject", ids[1]), gin.H{"reason": "dup"})
	require.Equal(t, http.StatusOK, code, body)
	code, body = a.do(1, http.MethodPost, fmt.Sprintf("/api/resource/%d/archive", ids[1]), nil)
	require.Equal(t, http.StatusOK, code, body)

	code, body = a.do(1, http.MethodPost, base+"/resources/bulk-approve", gin.H{"ids": ids, "notes": "ok"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{float64(ids[0])}, body["succeeded"])
	failed := body["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "invalid_transition", failed[0].(map[string]any)["code"])

	code, body = a.do(5, http.MethodGet, base+"/resources?status=approved", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["list"], 1)
}

func TestDevTokenAndMetrics(t *testing.T) {
	a := newApp(t)
	code, body := a.do(0, http.MethodPost, "/api/token/dev", gin.H{"user_id": 9})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["access_token"])

	code, body = a.do(0, http.MethodPost, "/api/token/refresh", gin.H{"refresh_token": body["refresh_token"]})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["access_token"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

type wsMessage struct {
	Type    string          `json:"type"`
	Session string          `json:"session"`
	Filter  string          `json:"filter"`
	Loading bool            `json:"loading"`
	Data    json.RawMessage `json:"data"`
	Error   map[string]any  `json:"error"`
}

func dial(t *testing.T, a *app, srv *httptest.Server, userID uint64, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return websocket.DefaultDialer.Dial(url+sep+"access_token="+a.token(userID), nil)
}

// waitFor 读取消息直到 match 返回 true
func waitFor(t *testing.T, conn *websocket.Conn, match func(wsMessage) bool) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func memberIDs(t *testing.T, msg wsMessage) []uint64 {
	var list []model.Membership
	require.NoError(t, json.Unmarshal(msg.Data, &list))
	out := make([]uint64, 0, len(list))
	for _, m := range list {
		out = append(out, m.UserID)
	}
	return out
}

func TestMemberStream(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()
	cid := a.community(1, model.JoinPolicyOpen)

	conn, _, err := dial(t, a, srv, 1, fmt.Sprintf("/ws/community/%d/members", cid))
	require.NoError(t, err)
	defer conn.Close()

	session := waitFor(t, conn, func(m wsMessage) bool { return m.Type == "session" })
	assert.NotEmpty(t, session.Session)
	waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && !m.Loading })

	code, _ := a.do(5, http.MethodPost, fmt.Sprintf("/api/community/%d/join", cid), nil)
	require.Equal(t, http.StatusOK, code)
	msg := waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && len(memberIDs(t, m)) == 2 })
	assert.ElementsMatch(t, []uint64{1, 5}, memberIDs(t, msg))
}

func TestResourceStreamFilter(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()
	cid := a.community(1, model.JoinPolicyOpen)
	code, _ := a.do(5, http.MethodPost, fmt.Sprintf("/api/community/%d/join", cid), nil)
	require.Equal(t, http.StatusOK, code)

	// 非审核者不能订阅待审资源
	_, resp, err := dial(t, a, srv, 5, fmt.Sprintf("/ws/community/%d/resources?status=pending", cid))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, a, srv, 1, fmt.Sprintf("/ws/community/%d/resources?status=pending", cid))
	require.NoError(t, err)
	defer conn.Close()
	waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && !m.Loading && m.Filter == "pending" })

	require.NoError(t, conn.WriteJSON(gin.H{"action": "filter", "status": "approved"}))
	waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && !m.Loading && m.Filter == "approved" })

	require.NoError(t, conn.WriteJSON(gin.H{"action": "filter", "status": "bogus"}))
	msg := waitFor(t, conn, func(m wsMessage) bool { return m.Type == "error" })
	assert.Equal(t, "validation_error", msg.Error["code"])
}

func resourceIDs(t *testing.T, msg wsMessage) []uint64 {
	var list []model.Resource
	require.NoError(t, json.Unmarshal(msg.Data, &list))
	out := make([]uint64, 0, len(list))
	for _, r := range list {
		out = append(out, r.ID)
	}
	return out
}

func TestStreamPrivateCommunity(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()
	code, body := a.do(1, http.MethodPost, "/api/community", gin.H{
		"name": "inner circle", "visibility": "private", "join_policy": model.JoinPolicyApproval,
	})
	require.Equal(t, http.StatusOK, code, body)
	cid := uint64(body["id"].(float64))
	base := fmt.Sprintf("/api/community/%d", cid)

	code, _ = a.do(7, http.MethodPost, base+"/request", nil)
	require.Equal(t, http.StatusOK, code)

	// 非成员与待审申请者在升级前被拒绝
	for _, viewer := range []uint64{99, 7} {
		for _, path := range []string{"/members", "/resources?status=approved"} {
			_, resp, err := dial(t, a, srv, viewer, fmt.Sprintf("/ws/community/%d%s", cid, path))
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode, "user %d %s", viewer, path)
		}
	}

	code, _ = a.do(1, http.MethodPost, base+"/members/7/approve", nil)
	require.Equal(t, http.StatusOK, code)
	conn, _, err := dial(t, a, srv, 7, fmt.Sprintf("/ws/community/%d/members", cid))
	require.NoError(t, err)
	defer conn.Close()
	msg := waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && !m.Loading })
	assert.ElementsMatch(t, []uint64{1, 7}, memberIDs(t, msg))
}

func TestResourceStreamHidesMembersOnly(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()
	cid := a.community(1, model.JoinPolicyOpen)
	submit := func(title string, vis model.ResourceVisibility) uint64 {
		code, body := a.do(1, http.MethodPost, fmt.Sprintf("/api/community/%d/resources", cid), gin.H{"title": title, "visibility": vis})
		require.Equal(t, http.StatusOK, code, body)
		return uint64(body["id"].(float64))
	}
	welcome := submit("welcome", model.ResourcePublic)
	submit("roster", model.ResourceMembers)

	code, body := a.do(99, http.MethodGet, fmt.Sprintf("/api/community/%d/resources", cid), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["list"], 1)

	conn, _, err := dial(t, a, srv, 99, fmt.Sprintf("/ws/community/%d/resources", cid))
	require.NoError(t, err)
	defer conn.Close()
	msg := waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && !m.Loading })
	assert.Equal(t, []uint64{welcome}, resourceIDs(t, msg))

	// 推送与列表查询使用同一可见规则
	submit("minutes", model.ResourceMembers)
	faq := submit("faq", model.ResourcePublic)
	msg = waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && len(resourceIDs(t, m)) >= 2 })
	assert.ElementsMatch(t, []uint64{welcome, faq}, resourceIDs(t, msg))
}

func TestStreamClosesWhenViewerDemoted(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()
	cid := a.community(1, model.JoinPolicyOpen)
	base := fmt.Sprintf("/api/community/%d", cid)
	code, _ := a.do(3, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(1, http.MethodPut, base+"/members/3/role", gin.H{"role": "moderator"})
	require.Equal(t, http.StatusOK, code)

	conn, _, err := dial(t, a, srv, 3, fmt.Sprintf("/ws/community/%d/resources?status=pending", cid))
	require.NoError(t, err)
	defer conn.Close()
	waitFor(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" && !m.Loading })

	code, _ = a.do(1, http.MethodPut, base+"/members/3/role", gin.H{"role": "member"})
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(5, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(5, http.MethodPost, base+"/resources", gin.H{"title": "draft"})
	require.Equal(t, http.StatusOK, code)

	msg := waitFor(t, conn, func(m wsMessage) bool { return m.Type == "error" })
	assert.Equal(t, "permission_denied", msg.Error["code"])
	var next wsMessage
	assert.Error(t, conn.ReadJSON(&next))
}
