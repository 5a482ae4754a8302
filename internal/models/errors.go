package models

import "errors"

var (
	ErrEntryNotFound         = errors.New("entry not found")
	ErrDuplicateEntry        = errors.New("duplicate entry")
	ErrInvalidAuthor         = errors.New("invalid author")
	ErrInvalidNappMetadata   = errors.New("invalid napp metadata")
	ErrInvalidToken          = errors.New("invalid token")
	ErrAuthenticationFailure = errors.New("authentication failure")
	ErrRepositoryUnreachable = errors.New("repository unreachable")
	ErrInvalidFile           = errors.New("invalid file")
)

// RequireOwner is the single ownership check used by every create, update
// and delete path: the acting user must be the owner of the resource.
func RequireOwner(acting *User, owner string) error {
	if acting == nil || acting.Username != owner {
		return ErrInvalidAuthor
	}
	return nil
}
