package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/hpungsan/lichen/internal/module"
	"github.com/hpungsan/lichen/internal/registry"
)

// LibraryName is the name capabilities load the directory builtins from.
const LibraryName = "directory"

// Tool names of the built-in directory lookups.
const (
	ToolCurrentUser        = "get_current_user_info"
	ToolUserGroups         = "get_user_groups"
	ToolListUsers          = "list_all_users"
	ToolListGroups         = "list_all_groups"
	ToolPrivilegedAccounts = "search_privileged_accounts"
)

// Tools returns the built-in directory tools. Results are JSON; lookup
// failures are reported as "directory error: ..." text, not as errors.
func Tools(d Directory) []registry.ToolRecord {
	return []registry.ToolRecord{
		{
			Name:        ToolCurrentUser,
			Description: "Returns the current user's directory entry (dn, cn, uid, mail). Takes no input.",
			Kind:        registry.KindBuiltin,
			Invoke: func(ctx context.Context, _ *string) (string, error) {
				u, err := d.CurrentUser(ctx)
				if u == nil && err == nil {
					return "{}", nil
				}
				return render(u, err)
			},
		},
		{
			Name:        ToolUserGroups,
			Description: "Returns the groups a user belongs to. Input: the user's cn. Defaults to the current user.",
			Kind:        registry.KindBuiltin,
			Invoke: func(ctx context.Context, arg *string) (string, error) {
				username := ""
				if arg != nil {
					username = strings.TrimSpace(*arg)
				}
				if username == "" {
					u, err := d.CurrentUser(ctx)
					if err != nil {
						return render(nil, err)
					}
					if u != nil {
						username = u.CN
					}
				}
				groups, err := d.UserGroups(ctx, username)
				return render(groups, err)
			},
		},
		{
			Name:        ToolListUsers,
			Description: "Lists every user with cn, uid and mail. Takes no input.",
			Kind:        registry.KindBuiltin,
			Invoke: func(ctx context.Context, _ *string) (string, error) {
				users, err := d.ListUsers(ctx)
				return render(users, err)
			},
		},
		{
			Name:        ToolListGroups,
			Description: "Lists every group name. Takes no input.",
			Kind:        registry.KindBuiltin,
			Invoke: func(ctx context.Context, _ *string) (string, error) {
				groups, err := d.ListGroups(ctx)
				return render(groups, err)
			},
		},
		{
			Name:        ToolPrivilegedAccounts,
			Description: "Lists member DNs of privileged groups (admin, root, it, developers, backup, security). Takes no input.",
			Kind:        registry.KindBuiltin,
			Invoke: func(ctx context.Context, _ *string) (string, error) {
				accounts, err := d.PrivilegedAccounts(ctx)
				return render(accounts, err)
			},
		},
	}
}

func render(v any, err error) (string, error) {
	if err != nil {
		return fmt.Sprintf("directory error: %v", err), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Library returns the Starlark builtins capabilities load from LibraryName:
// current_user, user_groups, list_users, list_groups and privileged_accounts.
// Users are dicts keyed dn, cn, uid and mail. Lookup failures are Starlark errors.
func Library(d Directory) starlark.StringDict {
	return starlark.StringDict{
		"current_user": starlark.NewBuiltin("current_user", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			u, err := d.CurrentUser(module.ContextOf(thread))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			if u == nil {
				return starlark.None, nil
			}
			return userDict(*u), nil
		}),
		"user_groups": starlark.NewBuiltin("user_groups", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var username string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "username", &username); err != nil {
				return nil, err
			}
			groups, err := d.UserGroups(module.ContextOf(thread), username)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			return stringList(groups), nil
		}),
		"list_users": starlark.NewBuiltin("list_users", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			users, err := d.ListUsers(module.ContextOf(thread))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			elems := make([]starlark.Value, len(users))
			for i, u := range users {
				elems[i] = userDict(u)
			}
			return starlark.NewList(elems), nil
		}),
		"list_groups": starlark.NewBuiltin("list_groups", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			groups, err := d.ListGroups(module.ContextOf(thread))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			return stringList(groups), nil
		}),
		"privileged_accounts": starlark.NewBuiltin("privileged_accounts", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			accounts, err := d.PrivilegedAccounts(module.ContextOf(thread))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			return stringList(accounts), nil
		}),
	}
}

func userDict(u User) *starlark.Dict {
	d := starlark.NewDict(4)
	_ = d.SetKey(starlark.String("dn"), starlark.String(u.DN))
	_ = d.SetKey(starlark.String("cn"), starlark.String(u.CN))
	_ = d.SetKey(starlark.String("uid"), starlark.String(u.UID))
	_ = d.SetKey(starlark.String("mail"), starlark.String(u.Mail))
	return d
}

func stringList(ss []string) *starlark.List {
	elems := make([]starlark.Value, len(ss))
	for i, s := range ss {
		elems[i] = starlark.String(s)
	}
	return starlark.NewList(elems)
}
