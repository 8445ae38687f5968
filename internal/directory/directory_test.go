package directory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/lichen/internal/capability"
	"github.com/hpungsan/lichen/internal/module"
)

const fixtureYAML = `current_user: test.user
base_dn_users: ou=users,dc=meli,dc=com
base_dn_groups: ou=groups,dc=meli,dc=com
users:
  - cn: test.user
    uid: tuser
    mail: test.user@meli.com
  - cn: ana
    uid: ana
    mail: ana@meli.com
  - cn: root.ops
    uid: rops
    mail: ops@meli.com
groups:
  - cn: developers
    members: [test.user, ana]
  - cn: sysadmins
    members: [root.ops, "cn=ana,ou=users,dc=meli,dc=com"]
  - cn: marketing
    members: [ana]
`

func loadFixture(t *testing.T) *Static {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0600))
	s := Load(path)
	require.NoError(t, s.Err())
	return s
}

func TestStatic_CurrentUser(t *testing.T) {
	s := loadFixture(t)

	u, err := s.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "cn=test.user,ou=users,dc=meli,dc=com", u.DN)
	assert.Equal(t, "tuser", u.UID)
	assert.Equal(t, "test.user@meli.com", u.Mail)
}

func TestStatic_CurrentUserAbsent(t *testing.T) {
	s := NewStatic(Fixture{CurrentUser: "ghost"})

	u, err := s.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestStatic_UserGroups(t *testing.T) {
	s := loadFixture(t)

	groups, err := s.UserGroups(context.Background(), "ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"developers", "sysadmins", "marketing"}, groups, "cn and DN members both match")

	groups, err = s.UserGroups(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = s.UserGroups(context.Background(), "")
	require.Error(t, err)
}

func TestStatic_ListUsersAndGroups(t *testing.T) {
	s := loadFixture(t)

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "cn=ana,ou=users,dc=meli,dc=com", users[1].DN)

	groups, err := s.ListGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"developers", "sysadmins", "marketing"}, groups)
}

func TestStatic_PrivilegedAccounts(t *testing.T) {
	s := loadFixture(t)

	accounts, err := s.PrivilegedAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cn=test.user,ou=users,dc=meli,dc=com",
		"cn=ana,ou=users,dc=meli,dc=com",
		"cn=root.ops,ou=users,dc=meli,dc=com",
	}, accounts)
}

func TestLoad_MissingFixture(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, s.Err())

	_, err := s.ListUsers(context.Background())
	require.Error(t, err)
	_, err = s.PrivilegedAccounts(context.Background())
	require.Error(t, err)
}

func TestLoad_MalformedFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users: [unclosed"), 0600))

	s := Load(path)
	require.Error(t, s.Err())
	_, err := s.ListGroups(context.Background())
	require.Error(t, err)
}

func TestTools(t *testing.T) {
	s := loadFixture(t)
	tools := Tools(s)
	require.Len(t, tools, 5)

	byName := make(map[string]func(arg *string) string)
	for _, tool := range tools {
		tool := tool
		byName[tool.Name] = func(arg *string) string {
			out, err := tool.Invoke(context.Background(), arg)
			require.NoError(t, err)
			return out
		}
	}

	assert.Contains(t, byName[ToolCurrentUser](nil), `"uid":"tuser"`)
	assert.JSONEq(t, `["developers"]`, byName[ToolUserGroups](nil), "defaults to current user")
	ana := "ana"
	assert.JSONEq(t, `["developers","sysadmins","marketing"]`, byName[ToolUserGroups](&ana))
	assert.JSONEq(t, `["developers","sysadmins","marketing"]`, byName[ToolListGroups](nil))
	assert.Contains(t, byName[ToolListUsers](nil), `"cn":"root.ops"`)
	assert.Contains(t, byName[ToolPrivilegedAccounts](nil), "cn=root.ops")
}

func TestTools_ErrorsAreText(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	for _, tool := range Tools(s) {
		out, err := tool.Invoke(context.Background(), nil)
		require.NoError(t, err, tool.Name)
		assert.True(t, strings.HasPrefix(out, "directory error: "), "%s: %s", tool.Name, out)
	}
}

func TestLibrary(t *testing.T) {
	s := loadFixture(t)
	l := module.NewLoader(module.WithLibrary(LibraryName, Library(s)))
	l.Mount("caps", module.SourceFunc(func() (string, error) {
		return strings.Join([]string{
			`load("directory", "current_user", "user_groups", "list_users", "list_groups", "privileged_accounts")`,
			`def whoami():`,
			`    return current_user()["cn"]`,
			`def my_groups():`,
			`    return ",".join(user_groups(current_user()["cn"]))`,
			`def admins_count():`,
			`    return len(privileged_accounts())`,
			`def mails():`,
			`    return [u["mail"] for u in list_users() if u["cn"] != "root.ops"]`,
			`def group_total():`,
			`    return len(list_groups())`,
			``,
		}, "\n"), nil
	}))

	m, err := l.LoadOrReload(context.Background(), "caps")
	require.NoError(t, err)

	tests := []struct {
		fn   string
		want string
	}{
		{"whoami", "test.user"},
		{"my_groups", "developers"},
		{"admins_count", "3"},
		{"mails", `["test.user@meli.com", "ana@meli.com"]`},
		{"group_total", "3"},
	}
	for _, tt := range tests {
		fn, ok := m.Function(tt.fn)
		require.True(t, ok, tt.fn)
		got, err := fn.Call(context.Background(), nil)
		require.NoError(t, err, tt.fn)
		assert.Equal(t, tt.want, got, tt.fn)
	}
}

func TestLibrary_LookupErrorFailsExecution(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	l := module.NewLoader(module.WithLibrary(LibraryName, Library(s)))
	l.Mount("caps", module.SourceFunc(func() (string, error) {
		return "load(\"directory\", \"list_users\")\ndef everyone():\n    return list_users()\n", nil
	}))

	m, err := l.LoadOrReload(context.Background(), "caps")
	require.NoError(t, err)
	fn, ok := m.Function("everyone")
	require.True(t, ok)

	_, err = fn.Call(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory unavailable")
}

func TestLibrary_ProvidesPreambleBindings(t *testing.T) {
	lib := Library(loadFixture(t))
	for _, name := range capability.PreambleBindings {
		assert.Contains(t, lib, name)
	}
}
