package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"inkwell/api/internal/rbac"
	"inkwell/api/internal/realtime"
	"inkwell/api/internal/store"
)

// CheckOwnership reports whether the caller owns a document. Absence of a
// membership record means "not owner", never an error.
func (s *Service) CheckOwnership(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to check document access", nil)
	}
	if err := validateIdentifier(documentID); err != nil {
		return nil, err
	}

	membership, err := s.store.GetMembership(ctx, session.UserID, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{"isOwner": false}, nil
	}
	if err != nil {
		return nil, storeFailure(err, "Failed to check document access. Please try again later.")
	}
	return map[string]any{"isOwner": membership.Role == string(rbac.RoleOwner)}, nil
}

// InviteUser grants editor access to a document. Only the current owner may
// invite, the grant is always editor, and an existing membership is never
// overwritten.
func (s *Service) InviteUser(ctx context.Context, session Session, documentID, targetID string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to invite users", nil)
	}
	if err := validateIdentifier(documentID); err != nil {
		return nil, err
	}
	if err := validateIdentifier(targetID); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, session.UserID, documentID, "You don't have permission to invite users to this document"); err != nil {
		return nil, err
	}

	if _, err := s.store.GetMembership(ctx, targetID, documentID); err == nil {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "This user already has access to this document", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeFailure(err, "Failed to invite the user. Please try again later.")
	}

	// The target may never have signed in; make sure a profile exists so
	// member listings have something to show.
	if err := s.store.UpsertUserProfile(ctx, store.UserProfile{
		UserID: targetID,
		Email:  targetID,
	}); err != nil {
		return nil, storeFailure(err, "Failed to invite the user. Please try again later.")
	}

	if err := s.store.InsertMembership(ctx, store.Membership{
		UserID: targetID,
		RoomID: documentID,
		Role:   string(rbac.RoleEditor),
	}); err != nil {
		return nil, storeFailure(err, "Failed to invite the user. Please try again later.")
	}

	s.refreshSearchRecord(ctx, documentID)

	return map[string]any{
		"docId":  documentID,
		"userId": targetID,
		"role":   string(rbac.RoleEditor),
	}, nil
}

// RemoveUser revokes a user's access to a document. Owner-only, and the
// owner cannot remove themselves; there is no ownership transfer.
func (s *Service) RemoveUser(ctx context.Context, session Session, documentID, targetID string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to remove users", nil)
	}
	if err := validateIdentifier(documentID); err != nil {
		return nil, err
	}
	if err := validateIdentifier(targetID); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, session.UserID, documentID, "You don't have permission to remove users from this document"); err != nil {
		return nil, err
	}
	if targetID == session.UserID {
		return nil, domainError(http.StatusForbidden, "SELF_REMOVAL", "You can't remove yourself from your own document", nil)
	}

	// Removing an absent membership is fine; revoke is idempotent.
	if err := s.store.DeleteMembership(ctx, targetID, documentID); err != nil {
		return nil, storeFailure(err, "Failed to remove the user. Please try again later.")
	}

	s.refreshSearchRecord(ctx, documentID)

	return map[string]any{
		"docId":  documentID,
		"userId": targetID,
	}, nil
}

// ListRoomUsers returns every member of a document with display data. Open
// to any authenticated caller; the membership UI is not owner-gated.
func (s *Service) ListRoomUsers(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to view document members", nil)
	}
	if err := validateIdentifier(documentID); err != nil {
		return nil, err
	}

	users, err := s.store.ListRoomUsers(ctx, documentID)
	if err != nil {
		return nil, storeFailure(err, "Failed to load document members. Please try again later.")
	}

	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"userId": user.Email,
			"name":   user.Name,
			"avatar": user.Avatar,
			"role":   user.Role,
		})
	}
	return map[string]any{"users": items}, nil
}

// AuthorizeRealtimeSession gates entry to a realtime room on a fresh
// membership lookup, then asks the collaboration service for a session
// grant. Membership is re-checked on every connection attempt; grants are
// never cached.
func (s *Service) AuthorizeRealtimeSession(ctx context.Context, session Session, roomID string) ([]byte, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to join this room", nil)
	}
	if err := validateIdentifier(roomID); err != nil {
		return nil, err
	}

	if _, err := s.store.GetMembership(ctx, session.UserID, roomID); errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You are not in this room", nil)
	} else if err != nil {
		return nil, storeFailure(err, "Failed to authorize the session. Please try again later.")
	}

	grant, err := s.realtime.AuthorizeSession(ctx, realtime.SessionRequest{
		UserID: session.UserID,
		Name:   session.Name,
		Avatar: session.Avatar,
		RoomID: roomID,
	})
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "REALTIME_ERROR", "Failed to authorize the session. Please try again later.", nil)
	}
	return grant, nil
}
