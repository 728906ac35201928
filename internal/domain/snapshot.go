package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot 存储特定时间点某个房间画布的完整状态。
// 版本号单调递增，快照只追加、从不修改。
type Snapshot struct {
	ID        uint      `gorm:"primaryKey"`                            // 快照唯一标识符 (主键)
	RoomID    uint      `gorm:"uniqueIndex:idx_room_version;not null"` // 快照对应的房间 ID
	CreatedBy uint      `gorm:"index"`                                 // 触发快照的用户 ID (后台任务为 0)
	Data      string    `gorm:"type:longtext;not null"`                // 画布状态的序列化数据 (使用 longtext 支持大画布)
	Version   uint      `gorm:"uniqueIndex:idx_room_version;not null"` // 单调递增的版本号，(room_id, version) 唯一
	CreatedAt time.Time `gorm:"index;not null"`                        // 快照创建时间
}

// ReplayData 是排水 (drain) 时持久化的快照载荷：
// 自上一个快照以来按接受顺序排列的操作序列。
type ReplayData struct {
	Operations []Operation `json:"operations"`
}

// SetReplay 将操作序列序列化为快照数据。
func (s *Snapshot) SetReplay(ops []Operation) error {
	bytes, err := json.Marshal(ReplayData{Operations: ops})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot replay data: %w", err)
	}
	s.Data = string(bytes)
	return nil
}
