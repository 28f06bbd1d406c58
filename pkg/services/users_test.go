package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// memUsers is an in-memory UserRepository.
type memUsers struct {
	users map[int64]*models.User
	perms []*models.UserPermission
	next  int64
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{users: map[int64]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
		if u.ID > m.next {
			m.next = u.ID
		}
	}
	return m
}

var _ repositories.UserRepository = (*memUsers)(nil)

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return apperrors.ErrConflict
		}
	}
	m.next++
	u.ID = m.next
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memUsers) List(_ context.Context, filter repositories.UserFilter) ([]*models.User, error) {
	out := []*models.User{}
	for id := int64(1); id <= m.next; id++ {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		if filter.GroupID != nil && (u.GroupID == nil || *u.GroupID != *filter.GroupID) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (m *memUsers) Update(_ context.Context, u *models.User) error {
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.users[id].Password = hash
	return nil
}

func (m *memUsers) SetActive(_ context.Context, id int64, active bool) error {
	m.users[id].IsActive = active
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	m.users[id].LastLogin = &at
	return nil
}

func (m *memUsers) ListPermissions(_ context.Context, userID int64) ([]*models.UserPermission, error) {
	out := []*models.UserPermission{}
	for _, p := range m.perms {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memUsers) GrantPermission(_ context.Context, perm *models.UserPermission) error {
	m.perms = append(m.perms, perm)
	return nil
}

func (m *memUsers) RevokePermission(_ context.Context, userID int64, permission string) error {
	for i, p := range m.perms {
		if p.UserID == userID && p.Permission == permission {
			m.perms = append(m.perms[:i], m.perms[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

type stubTokens struct{ err error }

func (s stubTokens) IssueToken(u *models.User) (string, time.Time, error) {
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return "token-for-" + u.Email, time.Now().Add(time.Hour), nil
}

type userFixture struct {
	users         *memUsers
	activity      *recordingActivity
	notifications *recordingNotifications
	auditLogs     *observer.ObservedLogs
	service       UserService
}

func newUserFixture(t *testing.T, users ...*models.User) *userFixture {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	f := &userFixture{
		users:         newMemUsers(users...),
		activity:      &recordingActivity{},
		notifications: &recordingNotifications{},
		auditLogs:     logs,
	}
	f.service = NewUserService(f.users, stubTokens{}, f.activity, f.notifications,
		audit.NewSecurityAuditor(zap.New(core)), nil, zap.NewNop())
	return f
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	return hash
}

func TestUserService_Register(t *testing.T) {
	f := newUserFixture(t)

	res, err := f.service.Register(context.Background(), RegisterInput{
		Email:           "ana@example.com",
		Password:        "s3cret-pass",
		PasswordConfirm: "s3cret-pass",
		FirstName:       "Ana",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RoleSimple, res.User.Role)
	assert.True(t, res.User.IsActive)
	assert.Equal(t, "token-for-ana@example.com", res.Token)
	assert.NotEqual(t, "s3cret-pass", f.users.users[res.User.ID].Password)
	assert.Equal(t, []string{models.ActionCreate}, f.activity.actions())
	require.Len(t, f.notifications.sent, 1)
	assert.Equal(t, "Welcome to Omnifin", f.notifications.sent[0].Title)
}

func TestUserService_RegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing email", RegisterInput{Password: "longenough", PasswordConfirm: "longenough"}},
		{"mismatch", RegisterInput{Email: "a@b.co", Password: "longenough", PasswordConfirm: "different1"}},
		{"too short", RegisterInput{Email: "a@b.co", Password: "short", PasswordConfirm: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUserFixture(t)
			_, err := f.service.Register(context.Background(), tt.in)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Empty(t, f.users.users)
		})
	}
}

func TestUserService_RegisterDuplicateEmail(t *testing.T) {
	f := newUserFixture(t, &models.User{ID: 1, Email: "ana@example.com"})

	_, err := f.service.Register(context.Background(), RegisterInput{
		Email: "ana@example.com", Password: "longenough", PasswordConfirm: "longenough",
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUserService_Login(t *testing.T) {
	hash := mustHash(t, "correct-horse")
	f := newUserFixture(t,
		&models.User{ID: 1, Email: "ana@example.com", Password: hash, Role: models.RoleSimple, IsActive: true},
		&models.User{ID: 2, Email: "gone@example.com", Password: hash, Role: models.RoleSimple},
	)
	ctx := context.Background()

	res, err := f.service.Login(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)
	assert.NotNil(t, res.User.LastLogin)
	assert.Equal(t, []string{models.ActionLogin}, f.activity.actions())

	tests := []struct {
		email, password string
		wantErr         error
		reason          string
	}{
		{"nobody@example.com", "correct-horse", apperrors.ErrInvalidCredentials, "unknown_email"},
		{"ana@example.com", "wrong", apperrors.ErrInvalidCredentials, "bad_password"},
		{"gone@example.com", "correct-horse", apperrors.ErrInactiveUser, "inactive"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			_, err := f.service.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)

			entries := f.auditLogs.FilterField(zap.String("reason", tt.reason)).All()
			require.Len(t, entries, 1)
			assert.Equal(t, "Login failed", entries[0].Message)
		})
	}
}

func TestUserService_ResolvePrincipal(t *testing.T) {
	f := newUserFixture(t,
		&models.User{ID: 1, Role: models.RoleAdmin, GroupID: groupA, IsActive: true},
		&models.User{ID: 2, Role: models.RoleSimple},
	)

	p, err := f.service.ResolvePrincipal(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, p.Role)
	assert.Equal(t, groupA, p.GroupID)

	_, err = f.service.ResolvePrincipal(context.Background(), 2)
	assert.ErrorIs(t, err, auth.ErrInactivePrincipal)
}

func TestUserService_ChangePassword(t *testing.T) {
	f := newUserFixture(t, &models.User{ID: 1, Email: "ana@example.com", Password: mustHash(t, "old-password"), IsActive: true})
	p := models.Principal{UserID: 1, Role: models.RoleSimple}
	ctx := context.Background()

	_, err := f.service.ChangePassword(ctx, p, "old-password", "new-password", "other-password")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.ChangePassword(ctx, p, "not-it", "new-password", "new-password")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	res, err := f.service.ChangePassword(ctx, p, "old-password", "new-password", "new-password")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.True(t, auth.CheckPassword(f.users.users[1].Password, "new-password"))
}

func TestUserService_UpdateProfileCannotChangeRole(t *testing.T) {
	f := newUserFixture(t, &models.User{ID: 1, Role: models.RoleSimple, IsActive: true})
	p := models.Principal{UserID: 1, Role: models.RoleSimple}

	_, err := f.service.UpdateProfile(context.Background(), p, UserUpdate{Role: ptr(models.RoleAdmin)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	user, err := f.service.UpdateProfile(context.Background(), p, UserUpdate{FirstName: ptr("Ana")})
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.FirstName)
}

func TestUserService_ListUsersByRole(t *testing.T) {
	f := newUserFixture(t,
		&models.User{ID: 1, Role: models.RoleSimple, GroupID: groupA},
		&models.User{ID: 2, Role: models.RoleSimple, GroupID: groupA},
		&models.User{ID: 3, Role: models.RoleAdmin, GroupID: groupA},
		&models.User{ID: 4, Role: models.RoleAdmin, GroupID: groupB},
		&models.User{ID: 5, Role: models.RoleSuperadmin},
	)
	ctx := context.Background()

	_, err := f.service.ListUsers(ctx, simpleUser, repositories.UserFilter{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	group, err := f.service.ListUsers(ctx, adminUser, repositories.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, group, 3)

	all, err := f.service.ListUsers(ctx, rootUser, repositories.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	noGroupAdmin := models.Principal{UserID: 3, Role: models.RoleAdmin}
	self, err := f.service.ListUsers(ctx, noGroupAdmin, repositories.UserFilter{})
	require.NoError(t, err)
	require.Len(t, self, 1)
	assert.Equal(t, int64(3), self[0].ID)
}

func TestUserService_AdminManagement(t *testing.T) {
	newFixture := func(t *testing.T) *userFixture {
		return newUserFixture(t,
			&models.User{ID: 1, Role: models.RoleSimple, GroupID: groupA, IsActive: true},
			&models.User{ID: 3, Role: models.RoleAdmin, GroupID: groupA, IsActive: true},
			&models.User{ID: 6, Role: models.RoleAdmin, GroupID: groupA, IsActive: true},
			&models.User{ID: 7, Role: models.RoleSimple, GroupID: groupB, IsActive: true},
		)
	}
	ctx := context.Background()

	t.Run("admin deactivates group member", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.service.DeactivateUser(ctx, adminUser, 1))
		assert.False(t, f.users.users[1].IsActive)
	})
	t.Run("admin cannot manage another admin", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.service.DeactivateUser(ctx, adminUser, 6), apperrors.ErrForbidden)
	})
	t.Run("admin cannot see other groups", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.service.DeactivateUser(ctx, adminUser, 7), apperrors.ErrNotFound)
	})
	t.Run("admin cannot promote to admin", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.UpdateUser(ctx, adminUser, 1, UserUpdate{Role: ptr(models.RoleAdmin)})
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
	t.Run("admin cannot move groups", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.UpdateUser(ctx, adminUser, 1, UserUpdate{GroupID: groupB})
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
	t.Run("superadmin moves groups", func(t *testing.T) {
		f := newFixture(t)
		user, err := f.service.UpdateUser(ctx, rootUser, 1, UserUpdate{GroupID: groupB})
		require.NoError(t, err)
		assert.Equal(t, groupB, user.GroupID)
	})
	t.Run("cannot deactivate self", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.service.DeactivateUser(ctx, adminUser, adminUser.UserID), apperrors.ErrValidation)
	})
}

func TestUserService_CreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("admin creates into own group", func(t *testing.T) {
		f := newUserFixture(t)
		user, err := f.service.CreateUser(ctx, adminUser, NewUserInput{
			Email: "new@example.com", Password: "longenough", Role: models.RoleSuper, GroupID: groupB,
		})
		require.NoError(t, err)
		assert.Equal(t, groupA, user.GroupID)
		assert.Equal(t, adminUser.UserID, *user.CreatedBy)
	})
	t.Run("admin cannot create admins", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.service.CreateUser(ctx, adminUser, NewUserInput{
			Email: "new@example.com", Password: "longenough", Role: models.RoleAdmin,
		})
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
	t.Run("simple user forbidden", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.service.CreateUser(ctx, simpleUser, NewUserInput{Email: "x@example.com", Password: "longenough"})
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
	t.Run("unknown role", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.service.CreateUser(ctx, rootUser, NewUserInput{
			Email: "x@example.com", Password: "longenough", Role: "owner",
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidRole)
	})
}

func TestUserService_Permissions(t *testing.T) {
	f := newUserFixture(t,
		&models.User{ID: 1, Role: models.RoleSimple, GroupID: groupA, IsActive: true},
	)
	ctx := context.Background()

	_, err := f.service.GrantPermission(ctx, adminUser, 1, "fly")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	perm, err := f.service.GrantPermission(ctx, adminUser, 1, models.PermManageKnowledge)
	require.NoError(t, err)
	assert.Equal(t, adminUser.UserID, *perm.GrantedBy)

	perms, err := f.service.ListPermissions(ctx, simpleUser, 1)
	require.NoError(t, err)
	assert.Len(t, perms, 1)

	require.NoError(t, f.service.RevokePermission(ctx, adminUser, 1, models.PermManageKnowledge))
	err = f.service.RevokePermission(ctx, adminUser, 1, models.PermManageKnowledge)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserService_CheckPermission(t *testing.T) {
	f := newUserFixture(t, &models.User{ID: 1, Role: models.RoleSimple, IsActive: true})
	p := models.Principal{UserID: 1, Role: models.RoleSimple}

	ok, err := f.service.CheckPermission(context.Background(), p, models.PermViewOwnProfile)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.CheckPermission(context.Background(), p, models.PermCreateUsers)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.service.CheckPermission(context.Background(), p, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUserService_TokenFailure(t *testing.T) {
	f := newUserFixture(t)
	f.service = NewUserService(f.users, stubTokens{err: errors.New("no key")}, f.activity, f.notifications,
		audit.NewSecurityAuditor(zap.NewNop()), nil, zap.NewNop())

	_, err := f.service.Register(context.Background(), RegisterInput{
		Email: "ana@example.com", Password: "longenough", PasswordConfirm: "longenough",
	})
	assert.Error(t, err)
}
