package service

import "errors"

// 业务错误，handler 层按 errors.Is 映射 HTTP 状态码
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUserExists        = errors.New("username or email already exists")
	ErrRequestExists     = errors.New("friend request already sent")
	ErrAlreadyFriends    = errors.New("already friends")
	ErrSelfFriend        = errors.New("cannot friend yourself")
	ErrFileType          = errors.New("file type not allowed")
	ErrInvalidPermission = errors.New("invalid permission")
)

var (
	ErrRequestClosed  = errors.New("friend request already answered")
	ErrQuotaExceeded  = errors.New("storage quota exceeded")
	ErrFileTooLarge   = errors.New("file too large to sync")
	ErrInvalidRequest = errors.New("invalid request")
)
