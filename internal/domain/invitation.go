package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// 邀请状态。一个邀请一旦被消费 (pending → accepted) 便不可再次兑换。
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationExpired  = "expired"
	InvitationRevoked  = "revoked"
)

// Invitation 表示一个限时、一次性的房间邀请。
// Token 由加密随机源生成 (32 字节 hex)，不可猜测。
type Invitation struct {
	ID            uint       `gorm:"primaryKey"`                    // 邀请唯一标识符 (主键)
	RoomID        uint       `gorm:"index;not null"`                // 绑定的房间 ID
	InvitedBy     uint       `gorm:"not null"`                      // 发出邀请的用户 ID
	InvitedUserID *uint      `gorm:"index"`                         // 被邀请的用户 ID (可选，定向邀请)
	InvitedEmail  string     `gorm:"size:191;index"`                // 被邀请的邮箱 (可选，定向邀请)
	Token         string     `gorm:"uniqueIndex;size:191;not null"` // 邀请令牌，全局唯一
	Permissions   string     `gorm:"type:text;not null"`            // 兑换后授予的能力集合 (Grant 的 JSON 字符串)
	Status        string     `gorm:"size:20;index;not null"`        // pending / accepted / expired / revoked
	ExpiresAt     time.Time  `gorm:"index;not null"`                // 邀请过期时间 (默认 7 天)
	AcceptedAt    *time.Time `gorm:""`                              // 被消费的时间
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

// ParseGrant 将 Permissions 字段解析为 Grant。
func (i *Invitation) ParseGrant() (Grant, error) {
	if i.Permissions == "" || i.Permissions == "null" {
		return DefaultGrant(), nil
	}
	var g Grant
	if err := json.Unmarshal([]byte(i.Permissions), &g); err != nil {
		return Grant{}, fmt.Errorf("failed to unmarshal invitation grant: %w", err)
	}
	return g, nil
}

// SetGrant 将 Grant 序列化为 JSON 字符串并写入 Permissions 字段。
func (i *Invitation) SetGrant(g Grant) error {
	bytes, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal invitation grant: %w", err)
	}
	i.Permissions = string(bytes)
	return nil
}

// Expired 判断邀请在指定时间点是否已过期。
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// AddressedTo 判断邀请是否指向给定的用户。
// 未定向的邀请 (既无 user id 也无 email) 对任何人有效。
func (i *Invitation) AddressedTo(userID uint, email string) bool {
	if i.InvitedUserID != nil && *i.InvitedUserID != userID {
		return false
	}
	if i.InvitedEmail != "" && i.InvitedEmail != email {
		return false
	}
	return true
}
