package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoomSettings 定义了房间内各类画布能力的开关。
// 以 JSON 字符串形式存入 Room.Settings 字段。
type RoomSettings struct {
	AllowDrawing     bool `json:"allowDrawing"`     // 是否允许自由绘制
	AllowShapes      bool `json:"allowShapes"`      // 是否允许添加图形
	AllowText        bool `json:"allowText"`        // 是否允许添加文本
	AllowStickyNotes bool `json:"allowStickyNotes"` // 是否允许添加便签
	MaxUsers         int  `json:"maxUsers"`         // 房间最大同时在线人数
	ReadOnly         bool `json:"readOnly"`         // 只读模式，禁止一切修改操作
}

// DefaultRoomSettings 返回新房间的默认设置。
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		AllowDrawing:     true,
		AllowShapes:      true,
		AllowText:        true,
		AllowStickyNotes: true,
		MaxUsers:         50,
		ReadOnly:         false,
	}
}

// Room 表示一个协作画布房间。
type Room struct {
	ID            uint      `gorm:"primaryKey"`                    // 房间唯一标识符 (主键)
	CompanyID     uint      `gorm:"index;not null"`                // 房间所属的公司/租户 ID
	CreatedBy     uint      `gorm:"index;not null"`                // 创建该房间的用户 ID
	CreatedByRole string    `gorm:"size:50"`                       // 创建者的角色
	Title         string    `gorm:"size:191;not null"`             // 房间标题
	Description   string    `gorm:"type:text"`                     // 房间描述
	RoomCode      string    `gorm:"uniqueIndex;size:191;not null"` // 用于加入房间的短码，必须唯一 (uniqueIndex)
	IsPublic      bool      `gorm:"not null;default:false"`        // 公开房间任何已认证用户都可加入
	IsActive      bool      `gorm:"index;not null;default:true"`   // 房间是否活跃 (归档后为 false，且永不恢复)
	Settings      string    `gorm:"type:text;not null"`            // 房间设置 (RoomSettings 的 JSON 字符串)
	ExpiresAt     time.Time `gorm:"index"`                         // 房间过期时间，到期后由后台任务归档
	CreatedAt     time.Time `gorm:"autoCreateTime"`                // 房间创建时间 (GORM 自动填充)
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`                // 记录最后更新时间 (GORM 自动填充)
}

// ParseSettings 将 Room 的 Settings 字段 (JSON 字符串) 解析为 RoomSettings。
// Settings 为空时返回默认设置而不是错误。
func (r *Room) ParseSettings() (RoomSettings, error) {
	if r.Settings == "" || r.Settings == "null" {
		return DefaultRoomSettings(), nil
	}
	var s RoomSettings
	if err := json.Unmarshal([]byte(r.Settings), &s); err != nil {
		return RoomSettings{}, fmt.Errorf("failed to unmarshal room settings: %w", err)
	}
	return s, nil
}

// SetSettings 将 RoomSettings 序列化为 JSON 字符串并写入 Settings 字段。
func (r *Room) SetSettings(s RoomSettings) error {
	bytes, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal room settings: %w", err)
	}
	r.Settings = string(bytes)
	return nil
}

// Expired 判断房间在指定时间点是否已过期。
func (r *Room) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
