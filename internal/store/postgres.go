package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// UpsertUserProfile creates or updates a profile with merge semantics:
// empty incoming fields leave the stored values untouched.
func (s *PostgresStore) UpsertUserProfile(ctx context.Context, profile UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, email, name, avatar)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			email  = COALESCE(NULLIF(EXCLUDED.email, ''), user_profiles.email),
			name   = COALESCE(NULLIF(EXCLUDED.name, ''), user_profiles.name),
			avatar = COALESCE(NULLIF(EXCLUDED.avatar, ''), user_profiles.avatar)
	`, profile.UserID, profile.Email, profile.Name, profile.Avatar)
	if err != nil {
		return fmt.Errorf("upsert user profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserProfile(ctx context.Context, userID string) (UserProfile, error) {
	var profile UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, name, avatar, created_at
		FROM user_profiles
		WHERE user_id=$1
	`, userID).Scan(&profile.UserID, &profile.Email, &profile.Name, &profile.Avatar, &profile.CreatedAt)
	if err != nil {
		return UserProfile{}, err
	}
	return profile, nil
}

// CreateDocumentWithOwner inserts the document row and the owner membership
// row in a single transaction, so a reader never observes one without the
// other.
func (s *PostgresStore) CreateDocumentWithOwner(ctx context.Context, doc Document, owner Membership) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, owner, title)
		VALUES ($1, $2, $3)
	`, doc.ID, doc.Owner, doc.Title); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (user_id, room_id, role)
		VALUES ($1, $2, $3)
	`, owner.UserID, owner.RoomID, owner.Role); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, title, created_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&doc.ID, &doc.Owner, &doc.Title, &doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, documentID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title=$2 WHERE id=$1
	`, documentID, title)
	if err != nil {
		return fmt.Errorf("update document title: %w", err)
	}
	return nil
}

// DeleteDocumentCascade removes the document row and every membership row
// referencing it in a single transaction. Returns the number of membership
// rows removed.
func (s *PostgresStore) DeleteDocumentCascade(ctx context.Context, documentID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete document tx: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE room_id=$1`, documentID)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("delete memberships: %w", err)
	}
	removed, _ := result.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete document tx: %w", err)
	}
	return int(removed), nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID, documentID string) (Membership, error) {
	var membership Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, room_id, role, created_at
		FROM memberships
		WHERE user_id=$1 AND room_id=$2
	`, userID, documentID).Scan(&membership.UserID, &membership.RoomID, &membership.Role, &membership.CreatedAt)
	if err != nil {
		return Membership{}, err
	}
	return membership, nil
}

func (s *PostgresStore) InsertMembership(ctx context.Context, membership Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, room_id, role)
		VALUES ($1, $2, $3)
	`, membership.UserID, membership.RoomID, membership.Role)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// DeleteMembership is idempotent; removing an absent record is not an error.
func (s *PostgresStore) DeleteMembership(ctx context.Context, userID, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM memberships WHERE user_id=$1 AND room_id=$2
	`, userID, documentID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

// ListRoomUsers returns all members of a document joined with their
// profiles, owner first, then by grant time.
func (s *PostgresStore) ListRoomUsers(ctx context.Context, documentID string) ([]RoomUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, COALESCE(p.name, ''), COALESCE(p.avatar, ''), m.role
		FROM memberships m
		LEFT JOIN user_profiles p ON p.user_id = m.user_id
		WHERE m.room_id=$1
		ORDER BY m.role = 'owner' DESC, m.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list room users: %w", err)
	}
	defer rows.Close()

	users := make([]RoomUser, 0)
	for rows.Next() {
		var user RoomUser
		if err := rows.Scan(&user.Email, &user.Name, &user.Avatar, &user.Role); err != nil {
			return nil, fmt.Errorf("scan room user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room users: %w", err)
	}
	return users, nil
}

// ListUserDocuments returns the caller's memberships joined with document
// titles, newest membership first. A membership whose document row is gone
// surfaces with the title "Untitled" rather than being dropped.
func (s *PostgresStore) ListUserDocuments(ctx context.Context, userID string) ([]UserDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, m.room_id, m.role, m.created_at, COALESCE(d.title, 'Untitled')
		FROM memberships m
		LEFT JOIN documents d ON d.id = m.room_id
		WHERE m.user_id=$1
		ORDER BY m.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user documents: %w", err)
	}
	defer rows.Close()

	docs := make([]UserDocument, 0)
	for rows.Next() {
		var doc UserDocument
		if err := rows.Scan(&doc.UserID, &doc.RoomID, &doc.Role, &doc.CreatedAt, &doc.Title); err != nil {
			return nil, fmt.Errorf("scan user document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, session RefreshSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, subject, email, name, avatar, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO UPDATE SET
			subject=EXCLUDED.subject, email=EXCLUDED.email, name=EXCLUDED.name,
			avatar=EXCLUDED.avatar, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, session.TokenHash, session.Subject, session.Email, session.Name, session.Avatar, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (RefreshSession, error) {
	var session RefreshSession
	err := s.db.QueryRowContext(ctx, `
		SELECT token_hash, subject, email, name, avatar, expires_at
		FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&session.TokenHash, &session.Subject, &session.Email, &session.Name, &session.Avatar, &session.ExpiresAt)
	if err != nil {
		return RefreshSession{}, err
	}
	return session, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
