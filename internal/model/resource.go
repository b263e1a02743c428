package model

import (
	"fmt"
	"time"
)

type ResourceStatus string

const (
	ResourcePending  ResourceStatus = "pending"
	ResourceApproved ResourceStatus = "approved"
	ResourceRejected ResourceStatus = "rejected"
	ResourceArchived ResourceStatus = "archived"
	ResourceReported ResourceStatus = "reported"
)

func (s ResourceStatus) Valid() bool {
	switch s {
	case ResourcePending, ResourceApproved, ResourceRejected, ResourceArchived, ResourceReported:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPendingReview   ApprovalStatus = "pending_review"
	ApprovalAuto            ApprovalStatus = "auto_approved"
	ApprovalManual          ApprovalStatus = "manually_approved"
	ApprovalRequiresChanges ApprovalStatus = "requires_changes"
)

type ResourceVisibility string

const (
	ResourcePublic  ResourceVisibility = "public"
	ResourceMembers ResourceVisibility = "members"
)

type Resource struct {
	ID              uint64             `gorm:"primaryKey" json:"id"`
	CommunityID     uint64             `gorm:"not null;index:idx_resource_community_status,priority:1" json:"community_id"`
	UploaderID      uint64             `gorm:"not null;index" json:"uploader_id"`
	UploaderRole    Role               `gorm:"size:16;not null" json:"uploader_role"`
	Title           string             `gorm:"size:200;not null" json:"title"`
	URL             string             `gorm:"size:512" json:"url"`
	Status          ResourceStatus     `gorm:"size:16;not null;index:idx_resource_community_status,priority:2" json:"status"`
	ApprovalStatus  ApprovalStatus     `gorm:"size:24;not null" json:"approval_status"`
	Visibility      ResourceVisibility `gorm:"size:16;not null;default:members" json:"visibility"`
	ApprovedBy      *uint64            `json:"approved_by,omitempty"`
	ReviewNotes     string             `gorm:"type:text" json:"review_notes,omitempty"`
	RejectionReason string             `gorm:"type:text" json:"rejection_reason,omitempty"`
	Revision        int64              `gorm:"not null;default:0" json:"revision"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	if r.ApprovedBy != nil {
		v := *r.ApprovedBy
		c.ApprovedBy = &v
	}
	return &c
}

// DocID 资源在变更流中的文档ID
func (r *Resource) DocID() string {
	return fmt.Sprintf("%d", r.ID)
}

// ValidateCoupling status 与 approvalStatus 的耦合约束
func ValidateCoupling(status ResourceStatus, approval ApprovalStatus) error {
	ok := true
	switch status {
	case ResourceApproved:
		ok = approval == ApprovalAuto || approval == ApprovalManual
	case ResourceRejected:
		ok = approval == ApprovalRequiresChanges
	case ResourcePending:
		ok = approval == ApprovalPendingReview
	}
	if !ok {
		return fmt.Errorf("status %s is incompatible with approval status %s", status, approval)
	}
	return nil
}
