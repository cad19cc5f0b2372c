package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/config"
	"inkwell/api/internal/logger"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/realtime"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Session is an authenticated caller. UserID is the email-shaped identity
// that keys membership records.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Subject      string
	Name         string
	Avatar       string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	UpsertUserProfile(context.Context, store.UserProfile) error
	GetUserProfile(context.Context, string) (store.UserProfile, error)
	CreateDocumentWithOwner(context.Context, store.Document, store.Membership) error
	GetDocument(context.Context, string) (store.Document, error)
	UpdateDocumentTitle(context.Context, string, string) error
	DeleteDocumentCascade(context.Context, string) (int, error)
	GetMembership(context.Context, string, string) (store.Membership, error)
	InsertMembership(context.Context, store.Membership) error
	DeleteMembership(context.Context, string, string) error
	ListRoomUsers(context.Context, string) ([]store.RoomUser, error)
	ListUserDocuments(context.Context, string) ([]store.UserDocument, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Backed by Redis when configured,
// Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, store.RefreshSession) error
	LookupRefreshSession(context.Context, string) (store.RefreshSession, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	DeleteDocument(string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	realtime realtime.Client
	search   searchIndex
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, rt realtime.Client, searchSvc *search.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		realtime: rt,
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login exchanges an identity-provider token for an Inkwell session,
// upserting the caller's profile record along the way.
func (s *Service) Login(ctx context.Context, identityToken string) (Session, error) {
	identity, err := auth.VerifyIdentityToken([]byte(s.cfg.IdentitySecret), identityToken)
	if err != nil {
		return Session{}, err
	}

	if err := s.store.UpsertUserProfile(ctx, store.UserProfile{
		UserID: identity.Email,
		Email:  identity.Email,
		Name:   identity.Name,
		Avatar: identity.Avatar,
	}); err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, identity.Subject, identity.Email, identity.Name, identity.Avatar)
}

func (s *Service) issueSession(ctx context.Context, subject, email, name, avatar string) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueAccessToken([]byte(s.cfg.JWTSecret), subject, email, name, avatar, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refreshToken := util.RandomToken(32)
	if err := s.sessions.SaveRefreshSession(ctx, store.RefreshSession{
		TokenHash: auth.HashToken(refreshToken),
		Subject:   subject,
		Email:     email,
		Name:      name,
		Avatar:    avatar,
		ExpiresAt: time.Now().Add(s.cfg.RefreshTTL),
	}); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       email,
		Subject:      subject,
		Name:         name,
		Avatar:       avatar,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and rejects revoked ones.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseAccessToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Email,
		Subject:   claims.Subject,
		Name:      claims.Name,
		Avatar:    claims.Avatar,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token and issues a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	record, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, record.Subject, record.Email, record.Name, record.Avatar)
}

// Logout revokes both halves of the session. Failures are logged but not
// surfaced; logout always succeeds from the caller's point of view.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			logger.Warnf("logout: revoke refresh token: %v", err)
		}
	}
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			logger.Warnf("logout: revoke access token: %v", err)
		}
	}
}

// CreateDocument inserts a new document together with the caller's owner
// membership in one transaction.
func (s *Service) CreateDocument(ctx context.Context, session Session, title string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to create a document", nil)
	}

	if err := s.store.UpsertUserProfile(ctx, store.UserProfile{
		UserID: session.UserID,
		Email:  session.UserID,
		Name:   session.Name,
		Avatar: session.Avatar,
	}); err != nil {
		return nil, storeFailure(err, "Failed to create a new document. Please try again later.")
	}

	if title == "" {
		title = "New Doc"
	}
	docID := util.NewID("doc")
	err := s.store.CreateDocumentWithOwner(ctx,
		store.Document{ID: docID, Owner: session.UserID, Title: title},
		store.Membership{UserID: session.UserID, RoomID: docID, Role: string(rbac.RoleOwner)},
	)
	if err != nil {
		return nil, storeFailure(err, "Failed to create a new document. Please try again later.")
	}

	s.refreshSearchRecord(ctx, docID)

	return map[string]any{
		"docId": docID,
		"title": title,
		"owner": session.UserID,
	}, nil
}

// GetDocument returns a document by id. Reads are open to any
// authenticated caller who knows the id; membership is not checked here.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to view this document", nil)
	}
	if err := validateIdentifier(documentID); err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return nil, storeFailure(err, "Failed to load the document. Please try again later.")
	}

	return map[string]any{
		"id":        doc.ID,
		"owner":     doc.Owner,
		"title":     doc.Title,
		"createdAt": doc.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// UpdateDocument renames a document. Like reads, renames are not gated on
// membership.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID, title string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to update this document", nil)
	}
	if err := validateIdentifier(documentID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Title is required", nil)
	}

	if _, err := s.store.GetDocument(ctx, documentID); errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	} else if err != nil {
		return nil, storeFailure(err, "Failed to update the document. Please try again later.")
	}

	if err := s.store.UpdateDocumentTitle(ctx, documentID, title); err != nil {
		return nil, storeFailure(err, "Failed to update the document. Please try again later.")
	}

	s.refreshSearchRecord(ctx, documentID)

	return map[string]any{
		"id":    documentID,
		"title": title,
	}, nil
}

// DeleteDocument removes the document and every membership referencing it,
// then tears down the realtime room best-effort.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to delete this document", nil)
	}
	if err := validateIdentifier(documentID); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, session.UserID, documentID, "You don't have permission to delete this document"); err != nil {
		return nil, err
	}

	removed, err := s.store.DeleteDocumentCascade(ctx, documentID)
	if err != nil {
		return nil, storeFailure(err, "Failed to delete the document. Please try again later.")
	}

	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}

	// Room teardown is fire-and-forget; the collaboration service reclaims
	// orphaned rooms on its own eventually.
	if s.realtime != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.realtime.DeleteRoom(ctx, documentID); err != nil {
				logger.Warnf("delete document %s: realtime room teardown: %v", documentID, err)
			}
		}()
	}

	return map[string]any{
		"docId":              documentID,
		"membershipsRemoved": removed,
	}, nil
}

// ListUserDocuments returns the caller's memberships with resolved titles,
// newest grant first.
func (s *Service) ListUserDocuments(ctx context.Context, session Session) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to view your documents", nil)
	}

	docs, err := s.store.ListUserDocuments(ctx, session.UserID)
	if err != nil {
		return nil, storeFailure(err, "Failed to load your documents. Please try again later.")
	}

	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, map[string]any{
			"roomId":    doc.RoomID,
			"title":     doc.Title,
			"role":      doc.Role,
			"createdAt": doc.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"documents": items}, nil
}

// Search runs a title search scoped to the caller's memberships.
func (s *Service) Search(ctx context.Context, session Session, query string, limit, offset int) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in to search", nil)
	}
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0, "query": query}, nil
	}
	resp := s.search.Search(search.Query{
		Text:   query,
		UserID: session.UserID,
		Limit:  limit,
		Offset: offset,
	})
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	}, nil
}

// refreshSearchRecord rebuilds the search record for a document, including
// its current member list, and pushes it fire-and-forget.
func (s *Service) refreshSearchRecord(ctx context.Context, documentID string) {
	if s.search == nil {
		return
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return
	}
	users, err := s.store.ListRoomUsers(ctx, documentID)
	if err != nil {
		return
	}
	members := make([]string, 0, len(users))
	for _, user := range users {
		members = append(members, user.Email)
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:      doc.ID,
		Title:   doc.Title,
		Owner:   doc.Owner,
		Members: members,
	})
}

// requireOwner re-derives the caller's role from the store. Roles are never
// trusted from the token.
func (s *Service) requireOwner(ctx context.Context, userID, documentID, denyMessage string) error {
	membership, err := s.store.GetMembership(ctx, userID, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusForbidden, "FORBIDDEN", denyMessage, nil)
	}
	if err != nil {
		return storeFailure(err, denyMessage)
	}
	if membership.Role != string(rbac.RoleOwner) {
		return domainError(http.StatusForbidden, "FORBIDDEN", denyMessage, nil)
	}
	return nil
}

// validateIdentifier rejects empty values and path separators, which would
// otherwise escape the per-user membership namespace.
func validateIdentifier(value string) error {
	if strings.TrimSpace(value) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Identifier is required", nil)
	}
	if strings.ContainsAny(value, `/\`) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Identifier contains invalid characters", nil)
	}
	return nil
}
