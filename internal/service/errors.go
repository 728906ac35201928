package service

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found or inactive")
	ErrAccessDenied       = errors.New("no access to this private room")
	ErrInvalidInvitation  = errors.New("invalid or expired invitation")
	ErrAlreadyConsumed    = errors.New("invitation has already been used")
	ErrCapabilityDenied   = errors.New("operation not permitted in this room")
	ErrPersistenceFailure = errors.New("storage operation failed")
)

// 加入被拒的原因字符串，原样返回给客户端，
// 前端依赖它区分"房间不存在"和"没有权限"。
const (
	ReasonRoomNotFound = "Room not found or inactive"
	ReasonNoAccess     = "No access to this private room"
	ReasonRoomFull     = "Room is full"
)
