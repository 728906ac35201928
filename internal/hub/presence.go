package hub

import (
	"time"

	"canvas-collab/internal/domain"
)

// member 是会话内一个在线参与者的状态。
type member struct {
	principal domain.Principal
	grant     domain.Grant
	joinedAt  time.Time
	cursor    *domain.CursorPosition
	out       outbound
}

// memberInfo 是广播给客户端的参与者视图。
type memberInfo struct {
	UserID   uint                    `json:"userId"`
	Name     string                  `json:"name"`
	Email    string                  `json:"email"`
	Role     string                  `json:"role"`
	Grant    domain.Grant            `json:"grant"`
	JoinedAt time.Time               `json:"joinedAt"`
	Cursor   *domain.CursorPosition  `json:"cursor,omitempty"`
}

func (m *member) info() memberInfo {
	return memberInfo{
		UserID:   m.principal.UserID,
		Name:     m.principal.Name,
		Email:    m.principal.Email,
		Role:     m.principal.Role,
		Grant:    m.grant,
		JoinedAt: m.joinedAt,
		Cursor:   m.cursor,
	}
}

// presenceTable 跟踪会话内的在线参与者。
// 只被会话 goroutine 访问，不需要锁。
// 同一用户重连时新连接替换旧连接，joinedAt 保持首次加入时间。
type presenceTable struct {
	members map[uint]*member
	order   []uint // 按加入先后排列的 userID
}

func newPresenceTable() *presenceTable {
	return &presenceTable{members: make(map[uint]*member)}
}

// Get 返回用户的在线记录，不在线时返回 nil。
func (t *presenceTable) Get(userID uint) *member {
	return t.members[userID]
}

// Add 登记一个参与者。已在线时替换连接并返回被替换的旧出口
// (调用方负责关闭)；首次上线返回 nil。
func (t *presenceTable) Add(p domain.Principal, grant domain.Grant, out outbound, at time.Time) outbound {
	if existing, ok := t.members[p.UserID]; ok {
		old := existing.out
		existing.out = out
		existing.grant = grant
		existing.principal = p
		return old
	}
	t.members[p.UserID] = &member{
		principal: p,
		grant:     grant,
		joinedAt:  at,
		out:       out,
	}
	t.order = append(t.order, p.UserID)
	return nil
}

// Remove 移除用户并返回其记录。
// out 非 nil 时只有当前连接匹配才移除，防止旧连接的迟到断开
// 把重连后的新连接踢下线。
func (t *presenceTable) Remove(userID uint, out outbound) *member {
	m, ok := t.members[userID]
	if !ok {
		return nil
	}
	if out != nil && m.out != out {
		return nil
	}
	delete(t.members, userID)
	for i, id := range t.order {
		if id == userID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return m
}

// SetCursor 记录用户光标的最新位置 (last-write-wins)。
func (t *presenceTable) SetCursor(userID uint, pos domain.CursorPosition) bool {
	m, ok := t.members[userID]
	if !ok {
		return false
	}
	m.cursor = &pos
	return true
}

// Len 返回在线人数。
func (t *presenceTable) Len() int { return len(t.members) }

// List 按加入顺序返回在线参与者。
func (t *presenceTable) List() []memberInfo {
	infos := make([]memberInfo, 0, len(t.order))
	for _, id := range t.order {
		if m, ok := t.members[id]; ok {
			infos = append(infos, m.info())
		}
	}
	return infos
}

// Each 按加入顺序遍历在线参与者。
func (t *presenceTable) Each(fn func(*member)) {
	for _, id := range t.order {
		if m, ok := t.members[id]; ok {
			fn(m)
		}
	}
}
