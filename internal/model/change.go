package model

import (
	"encoding/json"
	"fmt"
)

type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
)

// Change 变更通知，总是携带服务端的完整文档（删除时为空）
type Change struct {
	Topic    string          `json:"topic"`
	Kind     ChangeKind      `json:"kind"`
	DocID    string          `json:"doc_id"`
	Revision int64           `json:"revision"`
	Document json.RawMessage `json:"document,omitempty"`
}

func MembersTopic(communityID uint64) string {
	return fmt.Sprintf("community:%d:members", communityID)
}

func ResourcesTopic(communityID uint64) string {
	return fmt.Sprintf("community:%d:resources", communityID)
}

func MembershipChange(m *Membership) (Change, error) {
	doc, err := json.Marshal(m)
	if err != nil {
		return Change{}, err
	}
	return Change{
		Topic:    MembersTopic(m.CommunityID),
		Kind:     ChangeUpsert,
		DocID:    m.Key().String(),
		Revision: m.Revision,
		Document: doc,
	}, nil
}

func MembershipDeleted(key MembershipKey, revision int64) Change {
	return Change{
		Topic:    MembersTopic(key.CommunityID),
		Kind:     ChangeDelete,
		DocID:    key.String(),
		Revision: revision,
	}
}

func ResourceChange(r *Resource) (Change, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return Change{}, err
	}
	return Change{
		Topic:    ResourcesTopic(r.CommunityID),
		Kind:     ChangeUpsert,
		DocID:    r.DocID(),
		Revision: r.Revision,
		Document: doc,
	}, nil
}
