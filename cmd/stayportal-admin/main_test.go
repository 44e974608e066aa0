package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darstays/stayportal/internal/adapters/devauth"
	"github.com/darstays/stayportal/internal/data"
	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	apperrors "github.com/darstays/stayportal/internal/errors"
)

type fakeRoleRepo struct {
	roles   map[string]domainauth.Role
	granted time.Time
}

func (f *fakeRoleRepo) RoleFor(_ context.Context, userID string) (domainauth.Role, bool, error) {
	r, ok := f.roles[userID]
	return r, ok, nil
}

func (f *fakeRoleRepo) Grant(_ context.Context, userID string, role domainauth.Role) (*data.RoleAssignment, error) {
	f.roles[userID] = role
	return &data.RoleAssignment{UserID: userID, Role: role, GrantedAt: f.granted}, nil
}

func (f *fakeRoleRepo) Revoke(_ context.Context, userID string) error {
	if _, ok := f.roles[userID]; !ok {
		return errors.New("no role assigned")
	}
	delete(f.roles, userID)
	return nil
}

func (f *fakeRoleRepo) List(context.Context) ([]data.RoleAssignment, error) {
	out := make([]data.RoleAssignment, 0, len(f.roles))
	for id, r := range f.roles {
		out = append(out, data.RoleAssignment{UserID: id, Role: r, GrantedAt: f.granted})
	}
	return out, nil
}

const testUserID = "5f0c6a52-7a55-4b8e-9d55-0c8f6f3f7b11"

func TestParseSubjectFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantRole bool
		wantErr  bool
	}{
		{name: "user and role", args: []string{"--user", testUserID, "--role", "admin"}, wantRole: true},
		{name: "dev email", args: []string{"--dev-email", "staff@example.com"}},
		{name: "missing subject", args: []string{"--role", "admin"}, wantRole: true, wantErr: true},
		{name: "both subjects", args: []string{"--user", testUserID, "--dev-email", "a@example.com"}, wantErr: true},
		{name: "missing role", args: []string{"--user", testUserID}, wantRole: true, wantErr: true},
		{name: "bad timeout", args: []string{"--user", testUserID, "--timeout", "0s"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSubjectFlags("test", tt.args, tt.wantRole)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGrantShowRevokeRole(t *testing.T) {
	repo := &fakeRoleRepo{roles: map[string]domainauth.Role{}, granted: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, grantRole(ctx, &out, repo, subjectOptions{UserID: testUserID, Role: "Owner"}))
	assert.Equal(t, "granted owner to "+testUserID+" at 2026-01-02T03:04:05Z\n", out.String())

	out.Reset()
	require.NoError(t, showRole(ctx, &out, repo, subjectOptions{UserID: testUserID}))
	assert.Equal(t, testUserID+": owner (owner tier)\n", out.String())

	out.Reset()
	require.NoError(t, revokeRole(ctx, &out, repo, subjectOptions{UserID: testUserID}))
	assert.Contains(t, out.String(), "revoked role from")

	out.Reset()
	require.NoError(t, showRole(ctx, &out, repo, subjectOptions{UserID: testUserID}))
	assert.Contains(t, out.String(), "guest (no role row)")

	assert.Error(t, revokeRole(ctx, &out, repo, subjectOptions{UserID: testUserID}))
}

func TestGrantRole_Validation(t *testing.T) {
	repo := &fakeRoleRepo{roles: map[string]domainauth.Role{}}
	var out bytes.Buffer

	err := grantRole(context.Background(), &out, repo, subjectOptions{UserID: testUserID, Role: "superuser"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operations_manager")
	assert.Equal(t, 2, exitCode(err))

	err = grantRole(context.Background(), &out, repo, subjectOptions{UserID: "not-a-uuid", Role: "admin"})
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, repo.roles)
}

func TestGrantRole_DevEmailDerivesID(t *testing.T) {
	repo := &fakeRoleRepo{roles: map[string]domainauth.Role{}}
	var out bytes.Buffer

	require.NoError(t, grantRole(context.Background(), &out, repo, subjectOptions{DevEmail: "Staff@Example.com", Role: "staff"}))
	assert.Equal(t, domainauth.RoleStaff, repo.roles[devauth.IDFor("staff@example.com")])
}

func TestListRoles(t *testing.T) {
	repo := &fakeRoleRepo{roles: map[string]domainauth.Role{}, granted: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	var out bytes.Buffer

	require.NoError(t, listRoles(context.Background(), &out, repo))
	assert.Equal(t, "no role assignments\n", out.String())

	repo.roles[testUserID] = domainauth.RoleHousekeeping
	out.Reset()
	require.NoError(t, listRoles(context.Background(), &out, repo))
	assert.Contains(t, out.String(), "USER ID")
	assert.Contains(t, out.String(), "housekeeping")
	assert.Contains(t, out.String(), "staff")
}

type fakeSessionStore struct {
	ids     []string
	deleted []string
}

func (f *fakeSessionStore) Browsers(context.Context) ([]string, error) { return f.ids, nil }

func (f *fakeSessionStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSessionStore) DeleteAll(context.Context) (int, error) {
	n := len(f.ids)
	f.deleted = append(f.deleted, f.ids...)
	f.ids = nil
	return n, nil
}

func TestParseClearSessionsFlags(t *testing.T) {
	_, err := parseClearSessionsFlags(nil)
	assert.Error(t, err)
	_, err = parseClearSessionsFlags([]string{"--all"})
	assert.Error(t, err, "--all without --yes")
	_, err = parseClearSessionsFlags([]string{"--all", "--browser", "b1"})
	assert.Error(t, err)

	opts, err := parseClearSessionsFlags([]string{"--all", "--dry-run"})
	require.NoError(t, err)
	assert.True(t, opts.All)

	opts, err = parseClearSessionsFlags([]string{"--browser", " b1 "})
	require.NoError(t, err)
	assert.Equal(t, "b1", opts.BrowserID)
}

func TestClearSessions(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	store := &fakeSessionStore{ids: []string{"b1", "b2"}}
	require.NoError(t, clearSessions(ctx, &out, store, clearSessionsOptions{All: true, DryRun: true}))
	assert.Contains(t, out.String(), "would delete 2 sessions")
	assert.Empty(t, store.deleted)

	out.Reset()
	require.NoError(t, clearSessions(ctx, &out, store, clearSessionsOptions{All: true, Yes: true}))
	assert.Equal(t, "deleted 2 sessions\n", out.String())

	out.Reset()
	require.NoError(t, clearSessions(ctx, &out, store, clearSessionsOptions{BrowserID: "b9"}))
	assert.Equal(t, []string{"b1", "b2", "b9"}, store.deleted)
}

func TestPrintUsageListsCommands(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printUsage(&out))
	for name := range commands() {
		assert.Contains(t, out.String(), name)
	}
}

func TestParseMigrateFlags(t *testing.T) {
	opts, err := parseMigrateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)
	assert.False(t, opts.Pending)

	opts, err = parseMigrateFlags([]string{"--pending", "--timeout", "30s"})
	require.NoError(t, err)
	assert.True(t, opts.Pending)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	assert.Error(t, err)
}

func TestPrintPending(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPending(&buf, nil))
	assert.Equal(t, "schema is up to date\n", buf.String())

	buf.Reset()
	require.NoError(t, printPending(&buf, []string{"0001_user_roles", "0002_profiles"}))
	assert.Equal(t, "0001_user_roles\n0002_profiles\n", buf.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("grant: %w", apperrors.ValidationField("role", "unknown role"))))
	assert.Equal(t, 3, exitCode(apperrors.NotFound("no role assigned")))
}
