package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/user"
)

var promotableRoles = map[string]string{
	"student":     user.RoleStudent,
	"coordinator": user.RoleCoordinator,
	"admin":       user.RoleAdmin,
}

// promote grants a role to an existing user, keeping the ones they have.
func (cli *commandLine) promote(uname, roleName string) error {
	role, ok := promotableRoles[core.CleanString(roleName, true /* lower */)]
	if !ok {
		return fmt.Errorf("unknown role %q; expected one of: student, coordinator, admin", roleName)
	}

	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{uname}})
	if err != nil {
		return err
	}

	for _, r := range usr.Roles {
		if r == role {
			return nil // already granted
		}
	}
	usr.Roles = append(usr.Roles, role)
	usr.UpdatedAt = time.Now().UTC()

	if _, err := cli.usrRepo.UpdateUser(ctx, usr, nil); err != nil {
		return err
	}
	return nil
}
