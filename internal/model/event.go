package model

import "time"

// ModerationEvent 审核动作事件，写入 kafka 供通知与审计消费
type ModerationEvent struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	CommunityID uint64    `json:"community_id"`
	ActorID     uint64    `json:"actor_id"`
	SubjectID   uint64    `json:"subject_id,omitempty"`
	ResourceID  uint64    `json:"resource_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// 动作名
const (
	ActionJoin             = "join"
	ActionRequest          = "request"
	ActionWithdraw         = "withdraw"
	ActionApproveRequest   = "approve_request"
	ActionRejectRequest    = "reject_request"
	ActionLeave            = "leave"
	ActionKick             = "kick"
	ActionBan              = "ban"
	ActionSuspend          = "suspend"
	ActionReinstate        = "reinstate"
	ActionChangeRole       = "change_role"
	ActionUpdatePermission = "update_permissions"
	ActionCreateCommunity  = "create_community"
	ActionArchiveCommunity = "archive_community"
	ActionSubmitResource   = "submit_resource"
	ActionApproveResource  = "approve_resource"
	ActionRejectResource   = "reject_resource"
	ActionArchiveResource  = "archive_resource"
	ActionReportResource   = "report_resource"
	ActionResubmitResource = "resubmit_resource"
)
