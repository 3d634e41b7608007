package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core/user"
)

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

type userRow struct {
	ID           int            `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	StudentNo    null.String    `db:"student_no"`
	PasswordHash []byte         `db:"password_hash"`
	Roles        pq.StringArray `db:"roles"`
	IsActive     bool           `db:"is_active"`
	IsVerified   bool           `db:"is_verified"`
	LastLogin    null.Time      `db:"last_login"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const userColumns = `id, name, username, email, student_no, password_hash, roles,
	is_active, is_verified, last_login, created_at, updated_at`

func (r userRow) toUser() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		StudentNo:    r.StudentNo,
		PasswordHash: r.PasswordHash,
		Roles:        r.Roles,
		IsActive:     r.IsActive,
		IsVerified:   r.IsVerified,
		LastLogin:    r.LastLogin,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toUsers(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	exclIDs := make(pq.Int64Array, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		exclIDs = append(exclIDs, int64(usr.ID))
	}

	var taken struct {
		Username bool `db:"username_taken"`
		Email    bool `db:"email_taken"`
	}
	err := repo.db.GetContext(ctx, &taken, `
		SELECT EXISTS(SELECT 1 FROM "user" WHERE username = $1 AND id <> ALL($3)) AS username_taken,
		       EXISTS(SELECT 1 FROM "user" WHERE email = $2 AND id <> ALL($3)) AS email_taken`,
		username, email, exclIDs,
	)
	if err != nil {
		return wrapErr(err, "checking username uniqueness")
	}
	if taken.Username {
		return user.ErrUsernameExists
	}
	if taken.Email {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row userRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO "user" (name, username, email, student_no, password_hash, roles,
		                    is_active, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+userColumns,
		usr.Name, usr.Username, usr.Email, usr.StudentNo, usr.PasswordHash,
		pq.StringArray(usr.Roles), usr.IsActive, usr.IsVerified, usr.CreatedAt, usr.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "user_username_key") {
			return user.User{}, user.ErrUsernameExists
		}
		if isUniqueViolation(err, "user_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, wrapErr(err, "creating user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM "user" ORDER BY id`); err != nil {
		return nil, wrapErr(err, "querying users")
	}
	return toUsers(rows), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	q := `SELECT ` + userColumns + ` FROM "user" WHERE TRUE`
	args := make([]interface{}, 0, 5)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		q += ` AND (name ILIKE ` + p + ` OR username ILIKE ` + p + ` OR email ILIKE ` + p + `)`
	}
	if len(filter.Roles) > 0 {
		prefixes := make(pq.StringArray, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			prefixes = append(prefixes, role+"%")
		}
		q += ` AND EXISTS(SELECT 1 FROM unnest(roles) r WHERE r LIKE ANY(` + arg(prefixes) + `))`
	}
	if filter.IsActive != nil {
		q += ` AND is_active = ` + arg(*filter.IsActive)
	}
	if !filter.CreatedFrom.IsZero() {
		q += ` AND created_at >= ` + arg(filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		q += ` AND created_at <= ` + arg(filter.CreatedTo.UTC())
	}
	q += ` ORDER BY id`

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, wrapErr(err, "filtering users")
	}
	return toUsers(rows), nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row userRow
	var err error
	switch {
	case filter.ID != 0:
		err = repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM "user" WHERE id = $1`, filter.ID)
	case len(filter.UsernameOrEmail) > 0:
		idents := pq.StringArray(filter.UsernameOrEmail)
		err = repo.db.GetContext(ctx, &row, `
			SELECT `+userColumns+` FROM "user"
			WHERE username = ANY($1) OR email = ANY($1)
			ORDER BY id LIMIT 1`, idents)
	default:
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		if noRows(err) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, wrapErr(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	q := `UPDATE "user" SET name = $2, username = $3, email = $4, updated_at = $5`
	args := []interface{}{usr.ID, usr.Name, usr.Username, usr.Email, usr.UpdatedAt}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if usr.Roles != nil {
		q += `, roles = ` + arg(pq.StringArray(usr.Roles))
	}
	if usr.PasswordHash != nil {
		q += `, password_hash = ` + arg(usr.PasswordHash)
	}
	if usr.LastLogin.Valid {
		q += `, last_login = ` + arg(usr.LastLogin)
	}
	if isActive != nil {
		q += `, is_active = ` + arg(*isActive)
	}
	q += ` WHERE id = $1 RETURNING ` + userColumns

	var row userRow
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if noRows(err) {
			return user.User{}, user.ErrNotFound
		}
		if isUniqueViolation(err, "user_username_key") {
			return user.User{}, user.ErrUsernameExists
		}
		if isUniqueViolation(err, "user_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, wrapErr(err, "updating user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID != 0 {
		return repo.UpdateUser(ctx, usr, &usr.IsActive)
	}

	ctx, cancel := dbCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	var row userRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO "user" (name, username, email, student_no, password_hash, roles,
		                    is_active, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (email) DO UPDATE
		SET name = EXCLUDED.name, username = EXCLUDED.username,
		    password_hash = EXCLUDED.password_hash, roles = EXCLUDED.roles,
		    is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns,
		usr.Name, usr.Username, usr.Email, usr.StudentNo, usr.PasswordHash,
		pq.StringArray(usr.Roles), usr.IsActive, usr.IsVerified, now,
	)
	if err != nil {
		return user.User{}, wrapErr(err, "upserting user")
	}
	return row.toUser(), nil
}
