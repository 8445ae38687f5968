// Package directory provides the read-only directory lookups every capability
// can rely on, and their bindings as tools and as Starlark builtins.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PrivilegedKeywords mark a group as privileged when its cn contains one of them.
var PrivilegedKeywords = []string{"admin", "root", "it", "developers", "backup", "security"}

// User is a directory person entry.
type User struct {
	DN   string `json:"dn" yaml:"-"`
	CN   string `json:"cn" yaml:"cn"`
	UID  string `json:"uid" yaml:"uid"`
	Mail string `json:"mail" yaml:"mail"`
}

// Group is a directory group entry. Members are user cns or full DNs.
type Group struct {
	CN      string   `json:"cn" yaml:"cn"`
	Members []string `json:"members" yaml:"members"`
}

// Directory is the lookup surface capabilities are built on.
type Directory interface {
	// CurrentUser returns the acting user, or nil when there is none.
	CurrentUser(ctx context.Context) (*User, error)
	// UserGroups returns the cns of groups that list username as a member.
	UserGroups(ctx context.Context, username string) ([]string, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListGroups(ctx context.Context) ([]string, error)
	// PrivilegedAccounts returns member DNs of every privileged group.
	PrivilegedAccounts(ctx context.Context) ([]string, error)
}

// Fixture is the YAML document backing Static.
type Fixture struct {
	CurrentUser  string  `yaml:"current_user"`
	BaseDNUsers  string  `yaml:"base_dn_users"`
	BaseDNGroups string  `yaml:"base_dn_groups"`
	Users        []User  `yaml:"users"`
	Groups       []Group `yaml:"groups"`
}

const (
	defaultBaseDNUsers  = "ou=users,dc=example,dc=com"
	defaultBaseDNGroups = "ou=groups,dc=example,dc=com"
)

// Static serves lookups from a Fixture. A Static built from an unreadable
// fixture fails every lookup with the load error.
type Static struct {
	fx  Fixture
	err error
}

var _ Directory = (*Static)(nil)

// NewStatic returns a Static over fx.
func NewStatic(fx Fixture) *Static {
	if fx.BaseDNUsers == "" {
		fx.BaseDNUsers = defaultBaseDNUsers
	}
	if fx.BaseDNGroups == "" {
		fx.BaseDNGroups = defaultBaseDNGroups
	}
	return &Static{fx: fx}
}

// Load reads a YAML fixture. It never fails; a missing or malformed fixture
// yields a Static whose lookups return the error.
func Load(path string) *Static {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Static{err: fmt.Errorf("directory unavailable: %w", err)}
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return &Static{err: fmt.Errorf("directory fixture %s: %w", path, err)}
	}
	return NewStatic(fx)
}

// Err returns the load error, if any.
func (s *Static) Err() error { return s.err }

func (s *Static) userDN(cn string) string {
	if strings.Contains(cn, "=") {
		return cn
	}
	return "cn=" + cn + "," + s.fx.BaseDNUsers
}

// CurrentUser implements Directory.
func (s *Static) CurrentUser(ctx context.Context) (*User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	for _, u := range s.fx.Users {
		if u.CN == s.fx.CurrentUser {
			u.DN = s.userDN(u.CN)
			return &u, nil
		}
	}
	return nil, nil
}

// UserGroups implements Directory.
func (s *Static) UserGroups(ctx context.Context, username string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if username == "" {
		return nil, errors.New("username is required")
	}
	dn := s.userDN(username)
	groups := []string{}
	for _, g := range s.fx.Groups {
		for _, m := range g.Members {
			if s.userDN(m) == dn {
				groups = append(groups, g.CN)
				break
			}
		}
	}
	return groups, nil
}

// ListUsers implements Directory.
func (s *Static) ListUsers(ctx context.Context) ([]User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	users := make([]User, len(s.fx.Users))
	for i, u := range s.fx.Users {
		u.DN = s.userDN(u.CN)
		users[i] = u
	}
	return users, nil
}

// ListGroups implements Directory.
func (s *Static) ListGroups(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	groups := make([]string, len(s.fx.Groups))
	for i, g := range s.fx.Groups {
		groups[i] = g.CN
	}
	return groups, nil
}

// PrivilegedAccounts implements Directory. DNs are de-duplicated, first seen first.
func (s *Static) PrivilegedAccounts(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	accounts := []string{}
	for _, g := range s.fx.Groups {
		if !isPrivileged(g.CN) {
			continue
		}
		for _, m := range g.Members {
			dn := s.userDN(m)
			if !seen[dn] {
				seen[dn] = true
				accounts = append(accounts, dn)
			}
		}
	}
	return accounts, nil
}

func (s *Static) check(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func isPrivileged(cn string) bool {
	cn = strings.ToLower(cn)
	for _, kw := range PrivilegedKeywords {
		if strings.Contains(cn, kw) {
			return true
		}
	}
	return false
}
