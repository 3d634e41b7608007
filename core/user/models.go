package user

import (
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/clubhub/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Coordinator (club organizers)
	RoleCoordinator = "coordinator:"

	// Student (regular members)
	RoleStudent = "student:"
)

var (
	AdminRoles       = []string{RoleAdmin, RoleAdminOwner}
	CoordinatorRoles = []string{RoleCoordinator}
	StudentRoles     = []string{RoleStudent}
	AllRoles         = make([]string, 0, 4)

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner: 30,
		RoleAdmin:      21,

		// Coordinators: 20 - 11
		RoleCoordinator: 11,

		// Students: 10 - 1
		RoleStudent: 1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Coordinator", Value: RoleCoordinator},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}

	allRolesTag = "allroles"
)

func init() {
	AllRoles = append(AllRoles, AdminRoles...)
	AllRoles = append(AllRoles, CoordinatorRoles...)
	AllRoles = append(AllRoles, StudentRoles...)
	sort.Strings(AllRoles)

	_ = core.Validate.RegisterValidation(allRolesTag, validateAllRoles)
	core.RegisterCustomTranslation(allRolesTag, "invalid roles")
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

// validateAllRoles checks that provided user roles are all in AllRoles
func validateAllRoles(fl validator.FieldLevel) bool {
	if roles, ok := fl.Field().Interface().([]string); ok {
		for _, role := range roles {
			if idx := sort.SearchStrings(AllRoles, role); idx >= len(AllRoles) || AllRoles[idx] != role {
				return false
			}
		}
		return true
	}
	return false
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           int         `json:"id"`
	Name         string      `json:"name"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	StudentNo    null.String `json:"student_no"`
	IsActive     bool        `json:"is_active"`
	IsVerified   bool        `json:"is_verified"`
	Roles        []string    `json:"roles"`
	PasswordHash []byte      `json:"-"`
	LastLogin    null.Time   `json:"last_login"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool       { return u.RoleStartsWith(RoleAdmin) }
func (u *User) IsCoordinator() bool { return u.RoleStartsWith(RoleCoordinator) }
func (u *User) IsStudent() bool     { return u.RoleStartsWith(RoleStudent) }

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required,notblank"`
	Username        string   `json:"username" validate:"required,min=3,alphanum"`
	Email           string   `json:"email" validate:"required,email"`
	StudentNo       string   `json:"student_no" validate:"omitempty,notblank"`
	Password        string   `json:"password" validate:"required,min=8"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.StudentNo = core.CleanString(nu.StudentNo, true /* lower */)

	if err := core.Validate.Struct(nu); err != nil {
		return err
	}
	return svc.checkUniqueness(nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string   `json:"name"`
	Username        string   `json:"username" validate:"omitempty,min=3,alphanum"`
	Email           string   `json:"email" validate:"omitempty,email"`
	IsActive        *bool    `json:"is_active"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Password        string   `json:"password" validate:"omitempty,min=8"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(origUsr User, svc *Service) error {
	if name := core.CleanString(uu.Name); name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	if uname := core.CleanString(uu.Username, true); uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	if email := core.CleanString(uu.Email, true); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := core.Validate.Struct(uu); err != nil {
		return err
	}
	return svc.checkUniqueness(uu.Username, uu.Email, origUsr)
}

type QueryFilter struct {
	Search      string    `json:"search" query:"search"`
	Roles       []string  `json:"roles" query:"role"`
	IsActive    *bool     `json:"is_active" query:"is_active"`
	CreatedFrom time.Time `json:"created_from" query:"created_from"`
	CreatedTo   time.Time `json:"created_to" query:"created_to"`
}

func (f *QueryFilter) Clean() {
	f.Search = core.CleanString(f.Search, true)
}

// GetFilter looks a single User up by any of its unique fields.
type GetFilter struct {
	ID              int
	UsernameOrEmail []string
}
