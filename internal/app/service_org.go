package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mondayease/api/internal/auth"
	"mondayease/api/internal/authpw"
	"mondayease/api/internal/email"
	"mondayease/api/internal/files"
	"mondayease/api/internal/rbac"
	"mondayease/api/internal/store"
	"mondayease/api/internal/util"
	"mondayease/api/internal/views"
)

const maxLogoBytes = 2 << 20

func (s *Service) CreateOrganization(ctx context.Context, sess Session, name string) (map[string]any, error) {
	if sess.Kind != auth.KindUser {
		return nil, errForbidden
	}
	name = strings.TrimSpace(name)
	if _, err := s.store.GetMembershipByUser(ctx, sess.PrincipalID); err == nil {
		return nil, domainError(http.StatusConflict, "ALREADY_IN_ORGANIZATION", "You already belong to an organization", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	org := store.Organization{
		ID:      util.NewID("org"),
		Name:    name,
		Slug:    views.Slugify(name) + "-" + util.NewID("")[:6],
		OwnerID: sess.PrincipalID,
	}
	owner := store.Member{
		ID:             util.NewID("mem"),
		OrganizationID: org.ID,
		UserID:         sess.PrincipalID,
		Email:          sess.Email,
		Role:           string(rbac.RoleOwner),
		Status:         rbac.StatusActive,
	}
	if err := s.store.CreateOrganization(ctx, org, owner); err != nil {
		return nil, err
	}
	s.logger.Info("organization created", zap.String("org_id", org.ID), zap.String("owner_id", org.OwnerID))
	return map[string]any{"organization": s.organizationPayload(ctx, org)}, nil
}

func (s *Service) GetOrganization(ctx context.Context, sess Session) (map[string]any, error) {
	if err := requireOrgPrincipal(sess); err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"organization": s.organizationPayload(ctx, org)}
	if sess.IsClient() {
		return payload, nil
	}

	members, err := s.store.ListMembers(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, memberPayload(m))
	}
	payload["members"] = items

	clients, err := s.store.ListClients(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	payload["clientCount"] = len(clients)
	return payload, nil
}

func (s *Service) organizationPayload(ctx context.Context, org store.Organization) map[string]any {
	var logoURL any
	if org.LogoKey != "" && s.files != nil {
		if u, err := s.files.PresignGet(ctx, org.LogoKey, ""); err == nil {
			logoURL = u
		} else {
			s.logger.Warn("presign logo", zap.String("org_id", org.ID), zap.Error(err))
		}
	}
	return map[string]any{
		"id":        org.ID,
		"name":      org.Name,
		"slug":      org.Slug,
		"ownerId":   org.OwnerID,
		"logoUrl":   logoURL,
		"createdAt": formatTime(org.CreatedAt),
	}
}

func memberPayload(m store.Member) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"userId":    nilIfEmpty(m.UserID),
		"email":     m.Email,
		"fullName":  m.FullName,
		"role":      m.Role,
		"status":    m.Status,
		"invitedBy": nilIfEmpty(m.InvitedBy),
		"createdAt": formatTime(m.CreatedAt),
	}
}

// InviteMember creates a pending membership for an email address and mails
// the invitation when SMTP is configured.
func (s *Service) InviteMember(ctx context.Context, sess Session, emailAddr, role string) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionManageUsers); err != nil {
		return nil, err
	}
	member := store.Member{
		ID:             util.NewID("mem"),
		OrganizationID: sess.OrgID,
		Email:          strings.ToLower(strings.TrimSpace(emailAddr)),
		Role:           role,
		Status:         rbac.StatusPending,
		InvitedBy:      sess.PrincipalID,
	}
	if err := s.store.InsertMember(ctx, member); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "ALREADY_INVITED", "This email is already a member or has a pending invite", nil)
		}
		return nil, err
	}

	emailSent := false
	if s.SMTPConfigured() {
		org, err := s.store.GetOrganization(ctx, sess.OrgID)
		if err != nil {
			return nil, err
		}
		err = s.mailer.SendInviteEmail(member.Email, email.InviteData{
			OrganizationName: org.Name,
			InviterName:      sess.Name,
			Role:             role,
			AcceptURL:        s.cfg.AppURL + "/invite/accept",
		})
		if err != nil {
			s.logger.Warn("send invite email", zap.String("member_id", member.ID), zap.Error(err))
		} else {
			emailSent = true
		}
	}
	return map[string]any{"member": memberPayload(member), "emailSent": emailSent}, nil
}

// AcceptInvite activates the caller's pending membership, matched by email.
func (s *Service) AcceptInvite(ctx context.Context, sess Session) (map[string]any, error) {
	if sess.Kind != auth.KindUser {
		return nil, errForbidden
	}
	if sess.OrgID != "" && sess.MemberStatus == rbac.StatusActive {
		return nil, domainError(http.StatusConflict, "ALREADY_IN_ORGANIZATION", "You already belong to an organization", nil)
	}
	member, err := s.store.AcceptInvite(ctx, sess.Email, sess.PrincipalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "INVITE_NOT_FOUND", "No pending invitation for this email", nil)
		}
		return nil, err
	}
	return map[string]any{"member": memberPayload(member)}, nil
}

// UpdateMember changes a member's role and status. The owner row is fixed and
// ownership cannot be granted.
func (s *Service) UpdateMember(ctx context.Context, sess Session, memberID, role, status string) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionManageUsers); err != nil {
		return nil, err
	}
	member, err := s.store.GetMember(ctx, sess.OrgID, memberID)
	if err != nil {
		return nil, err
	}
	if member.Role == string(rbac.RoleOwner) {
		return nil, domainError(http.StatusForbidden, "OWNER_IMMUTABLE", "The organization owner cannot be changed", nil)
	}
	if role == "" {
		role = member.Role
	}
	if status == "" {
		status = member.Status
	}
	if member.Status == rbac.StatusPending && status == rbac.StatusActive {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Pending members become active by accepting their invite", nil)
	}
	if err := s.store.UpdateMember(ctx, sess.OrgID, memberID, role, status); err != nil {
		return nil, err
	}
	member.Role = role
	member.Status = status
	return map[string]any{"member": memberPayload(member)}, nil
}

func (s *Service) SetLogo(ctx context.Context, sess Session, contentType string, data []byte) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, files.ErrNotConfigured
	}
	if !files.AllowedLogoType(contentType) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Logo must be a PNG, JPEG, SVG or WebP image", nil)
	}
	if len(data) == 0 || len(data) > maxLogoBytes {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Logo must be between 1 byte and 2 MB", nil)
	}

	key := files.LogoKey(sess.OrgID, contentType)
	if err := s.files.Put(ctx, key, contentType, data); err != nil {
		return nil, err
	}
	if err := s.store.SetOrganizationLogo(ctx, sess.OrgID, key); err != nil {
		return nil, err
	}
	u, err := s.files.PresignGet(ctx, key, "")
	if err != nil {
		return nil, err
	}
	return map[string]any{"logoUrl": u}, nil
}

func (s *Service) ListClients(ctx context.Context, sess Session) ([]map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	clients, err := s.store.ListClients(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		items = append(items, clientPayload(c))
	}
	return items, nil
}

func clientPayload(c store.Client) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"email":     c.Email,
		"fullName":  c.FullName,
		"company":   c.Company,
		"createdAt": formatTime(c.CreatedAt),
	}
}

func (s *Service) CreateClient(ctx context.Context, sess Session, emailAddr, password, fullName, company string) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	hash, err := authpw.HashPassword(password)
	if err != nil {
		return nil, err
	}
	client := store.Client{
		ID:             util.NewID("cli"),
		OrganizationID: sess.OrgID,
		Email:          strings.ToLower(strings.TrimSpace(emailAddr)),
		FullName:       strings.TrimSpace(fullName),
		Company:        strings.TrimSpace(company),
		PasswordHash:   hash,
		CreatedBy:      sess.PrincipalID,
	}
	if err := s.store.InsertClient(ctx, client); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "EMAIL_TAKEN", "A client with this email already exists", nil)
		}
		return nil, err
	}
	return clientPayload(client), nil
}

func (s *Service) DeleteClient(ctx context.Context, sess Session, clientID string) error {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return err
	}
	return s.store.DeleteClient(ctx, sess.OrgID, clientID)
}
