package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Principal 表示认证层交给本核心的身份主体。
// 由 JWT 中间件从 token claims 中提取。
type Principal struct {
	UserID    uint   `json:"userId"`
	Role      string `json:"role"`
	CompanyID uint   `json:"companyId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// IsAdmin 判断主体是否具有管理员角色。
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// Grant 表示参与者在房间内被授予的能力集合。
type Grant struct {
	CanDraw     bool `json:"canDraw"`
	CanEdit     bool `json:"canEdit"`
	CanInvite   bool `json:"canInvite"`
	IsModerator bool `json:"isModerator"`
}

// DefaultGrant 返回公开房间加入者的默认授权。
func DefaultGrant() Grant {
	return Grant{CanDraw: true, CanEdit: true, CanInvite: false, IsModerator: false}
}

// ModeratorGrant 返回房间创建者的完整主持人授权。
func ModeratorGrant() Grant {
	return Grant{CanDraw: true, CanEdit: true, CanInvite: true, IsModerator: true}
}

// Participant 表示与房间关联过的用户及其授权。
// (room_id, user_id) 组合键保证同一用户在一个房间内至多一条记录。
type Participant struct {
	ID          uint      `gorm:"primaryKey"`                            // 参与记录唯一标识符 (主键)
	RoomID      uint      `gorm:"uniqueIndex:idx_room_user;not null"`    // 所属房间 ID
	UserID      uint      `gorm:"uniqueIndex:idx_room_user;not null"`    // 用户 ID
	UserRole    string    `gorm:"size:50"`                               // 用户在上层系统中的角色
	UserName    string    `gorm:"size:191"`                              // 展示名称
	UserEmail   string    `gorm:"size:191"`                              // 用户邮箱
	Permissions string    `gorm:"type:text;not null"`                    // 授权集合 (Grant 的 JSON 字符串)
	JoinedAt    time.Time `gorm:"index;not null"`                        // 首次加入时间
	LastActive  time.Time `gorm:"index"`                                 // 最后活跃时间
}

// ParseGrant 将 Permissions 字段解析为 Grant。
func (p *Participant) ParseGrant() (Grant, error) {
	if p.Permissions == "" || p.Permissions == "null" {
		return Grant{}, nil
	}
	var g Grant
	if err := json.Unmarshal([]byte(p.Permissions), &g); err != nil {
		return Grant{}, fmt.Errorf("failed to unmarshal participant grant: %w", err)
	}
	return g, nil
}

// SetGrant 将 Grant 序列化为 JSON 字符串并写入 Permissions 字段。
func (p *Participant) SetGrant(g Grant) error {
	bytes, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal participant grant: %w", err)
	}
	p.Permissions = string(bytes)
	return nil
}
