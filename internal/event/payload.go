package event

import (
	"encoding/json"
	"errors"
)

var errInvalidID = errors.New("missing or non-positive id")

func requireIDs(ids ...int64) error {
	for _, id := range ids {
		if id <= 0 {
			return errInvalidID
		}
	}
	return nil
}

// UserCreate upserts a user by id. PasswordHash is optional.
type UserCreate struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash,omitempty"`
}

func (UserCreate) Kind() Kind { return KindUserCreate }
func (UserCreate) sealed()    {}

func (p UserCreate) Validate() error {
	if err := requireIDs(p.UserID); err != nil {
		return err
	}
	if p.Username == "" || p.Email == "" {
		return errors.New("username and email are required")
	}
	return nil
}

// FileUpload upserts a file record by id and carries the file bytes, which
// travel base64 encoded under "content".
type FileUpload struct {
	ID               int64  `json:"id"`
	UserID           int64  `json:"user_id"`
	StoredFilename   string `json:"stored_filename"`
	OriginalFilename string `json:"original_filename"`
	UploadDate       Time   `json:"upload_date"`
	FileSize         int64  `json:"file_size"`
	Permissions      string `json:"permissions"`
	Content          []byte `json:"content"`
}

func (FileUpload) Kind() Kind { return KindFileUpload }
func (FileUpload) sealed()    {}

func (p FileUpload) Validate() error {
	if err := requireIDs(p.ID, p.UserID); err != nil {
		return err
	}
	if p.StoredFilename == "" {
		return errors.New("stored_filename is required")
	}
	return nil
}

type FileDelete struct {
	FileID int64 `json:"file_id"`
}

func (FileDelete) Kind() Kind        { return KindFileDelete }
func (FileDelete) sealed()           {}
func (p FileDelete) Validate() error { return requireIDs(p.FileID) }

type PermissionChange struct {
	FileID         int64  `json:"file_id"`
	NewPermissions string `json:"new_permissions"`
}

func (PermissionChange) Kind() Kind { return KindPermissionChange }
func (PermissionChange) sealed()    {}

func (p PermissionChange) Validate() error {
	if err := requireIDs(p.FileID); err != nil {
		return err
	}
	if p.NewPermissions == "" {
		return errors.New("new_permissions is required")
	}
	return nil
}

type FriendRequest struct {
	RequestID int64 `json:"request_id"`
	FromUser  int64 `json:"from_user"`
	ToUser    int64 `json:"to_user"`
}

func (FriendRequest) Kind() Kind { return KindFriendRequest }
func (FriendRequest) sealed()    {}

func (p FriendRequest) Validate() error {
	return requireIDs(p.RequestID, p.FromUser, p.ToUser)
}

type FriendAdded struct {
	RequestID int64 `json:"request_id"`
}

func (FriendAdded) Kind() Kind        { return KindFriendAdded }
func (FriendAdded) sealed()           {}
func (p FriendAdded) Validate() error { return requireIDs(p.RequestID) }

type FriendRejected struct {
	RequestID int64 `json:"request_id"`
}

func (FriendRejected) Kind() Kind        { return KindFriendRejected }
func (FriendRejected) sealed()           {}
func (p FriendRejected) Validate() error { return requireIDs(p.RequestID) }

type FriendRemoved struct {
	UserID   int64 `json:"user_id"`
	FriendID int64 `json:"friend_id"`
}

func (FriendRemoved) Kind() Kind        { return KindFriendRemoved }
func (FriendRemoved) sealed()           {}
func (p FriendRemoved) Validate() error { return requireIDs(p.UserID, p.FriendID) }

// Unknown holds an event of a kind this build does not know, verbatim, so it
// can still be relayed and logged.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (p Unknown) Kind() Kind    { return Kind(p.Type) }
func (Unknown) sealed()         {}
func (Unknown) Validate() error { return nil }
