// Package db is the Postgres record store for punches, companies, and user
// profiles. Queries follow two strategies mirrored from the mobile backend:
// typed indexed columns serve the primary paths, while bounded broad scans let
// the service reconcile legacy rows whose typed columns are NULL.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"punchclock/internal/config"
	"punchclock/internal/db/models"
)

var (
	// ErrVersionConflict means a version-guarded update matched no row: the
	// record changed underneath the caller (or disappeared). Callers reload
	// and retry.
	ErrVersionConflict = errors.New("punch was modified concurrently")
	// ErrDuplicateOpenPunch means the partial unique index rejected a second
	// open punch for the same user.
	ErrDuplicateOpenPunch = errors.New("user already has an open punch")
)

type DB struct {
	*pgxpool.Pool
}

func New(cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode,
	))
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}

	return &DB{pool}, nil
}

const punchColumns = `
	id, user_id, company_code, staff_id, email,
	punch_in, punch_in_at, punch_in_location, punch_in_photo_path, punch_in_photo_url, punch_in_photo_data_url,
	punch_out, punch_out_at, punch_out_location, punch_out_photo_path, punch_out_photo_url, punch_out_photo_data_url,
	checkpoints, version, created_at, updated_at`

// CreatePunch inserts a new punch record. A second open punch for the same
// user fails with ErrDuplicateOpenPunch.
func (db *DB) CreatePunch(ctx context.Context, p *models.Punch) error {
	query := `
		INSERT INTO punches (
			id, user_id, company_code, staff_id, email,
			punch_in, punch_in_at, punch_in_location, punch_in_photo_path, punch_in_photo_url,
			checkpoints, version
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8::jsonb, $9, $10, $11::jsonb, $12)`

	inLoc, err := jsonOrNil(p.PunchInLocation)
	if err != nil {
		return fmt.Errorf("error encoding location: %w", err)
	}
	cps, err := jsonOrNil(p.Checkpoints)
	if err != nil {
		return fmt.Errorf("error encoding checkpoints: %w", err)
	}

	_, err = db.Exec(ctx, query,
		p.ID.String(),
		p.UserID,
		p.CompanyCode,
		p.StaffID,
		p.Email,
		p.PunchIn,
		p.PunchInAt,
		inLoc,
		p.PunchInPhotoPath,
		p.PunchInPhotoURL,
		cps,
		p.Version,
	)
	if isUniqueViolation(err, "punches_one_open_per_user") {
		return ErrDuplicateOpenPunch
	}
	return err
}

// GetOpenPunch returns the user's open punch, or nil if none exists.
func (db *DB) GetOpenPunch(ctx context.Context, userID string) (*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE user_id = $1 AND punch_out IS NULL
		LIMIT 1`

	p, err := scanPunch(db.QueryRow(ctx, query, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPunchByID retrieves a punch by its ID, or nil when absent.
func (db *DB) GetPunchByID(ctx context.Context, id uuid.UUID) (*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE id = $1`

	p, err := scanPunch(db.QueryRow(ctx, query, id.String()))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ClosePunch sets the end fields of a punch, guarded by version.
func (db *DB) ClosePunch(ctx context.Context, id uuid.UUID, version int64, at time.Time, loc models.GeoPoint, photoPath, photoURL string) error {
	query := `
		UPDATE punches
		SET punch_out = $3::jsonb,
			punch_out_at = $4,
			punch_out_location = $5::jsonb,
			punch_out_photo_path = $6,
			punch_out_photo_url = $7,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2`

	outLoc, err := jsonOrNil(&loc)
	if err != nil {
		return fmt.Errorf("error encoding location: %w", err)
	}

	ct, err := db.Exec(ctx, query,
		id.String(), version, timeOut(at), at, outLoc, photoPath, strOrNil(photoURL))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateCheckpoints replaces the checkpoint list of a punch, guarded by
// version so appends never clobber a concurrently written list.
func (db *DB) UpdateCheckpoints(ctx context.Context, id uuid.UUID, version int64, checkpoints []models.Checkpoint) error {
	query := `
		UPDATE punches
		SET checkpoints = $3::jsonb,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2`

	cps, err := jsonOrNil(checkpoints)
	if err != nil {
		return fmt.Errorf("error encoding checkpoints: %w", err)
	}

	ct, err := db.Exec(ctx, query, id.String(), version, cps)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// RewritePhotoRefs applies a legacy image migration to a punch. Only photo
// reference fields change; temporal and location data stay untouched.
func (db *DB) RewritePhotoRefs(ctx context.Context, id uuid.UUID, version int64, upd models.PhotoRefUpdate) error {
	query := `
		UPDATE punches
		SET punch_in_photo_path = COALESCE($3, punch_in_photo_path),
			punch_in_photo_url = COALESCE($4, punch_in_photo_url),
			punch_in_photo_data_url = CASE WHEN $5 THEN NULL ELSE punch_in_photo_data_url END,
			punch_out_photo_path = COALESCE($6, punch_out_photo_path),
			punch_out_photo_url = COALESCE($7, punch_out_photo_url),
			punch_out_photo_data_url = CASE WHEN $8 THEN NULL ELSE punch_out_photo_data_url END,
			checkpoints = COALESCE($9::jsonb, checkpoints),
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2`

	var cps *string
	if upd.Checkpoints != nil {
		enc, err := jsonOrNil(upd.Checkpoints)
		if err != nil {
			return fmt.Errorf("error encoding checkpoints: %w", err)
		}
		cps = enc
	}

	ct, err := db.Exec(ctx, query,
		id.String(), version,
		upd.PunchInPhotoPath, upd.PunchInPhotoURL, upd.ClearPunchInData,
		upd.PunchOutPhotoPath, upd.PunchOutPhotoURL, upd.ClearPunchOutData,
		cps,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// GetPunchesInRange is the primary indexed path: punches for a user whose
// typed start column falls in [from, to), ascending. Legacy rows with a NULL
// typed column are not visible here.
func (db *DB) GetPunchesInRange(ctx context.Context, userID string, from, to time.Time) ([]*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE user_id = $1 AND punch_in_at >= $2 AND punch_in_at < $3
		ORDER BY punch_in_at ASC`

	return db.queryPunches(ctx, query, userID, from, to)
}

// GetUserPunches is the bounded broad scan used by fallback paths. No ordering
// is imposed; callers filter and sort client-side after normalization.
func (db *DB) GetUserPunches(ctx context.Context, userID string, limit int) ([]*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE user_id = $1
		LIMIT $2`

	return db.queryPunches(ctx, query, userID, limit)
}

// GetCompanyPunchesInRange is the primary path for company-wide day views.
func (db *DB) GetCompanyPunchesInRange(ctx context.Context, companyCode string, from, to time.Time) ([]*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE company_code = $1 AND punch_in_at >= $2 AND punch_in_at < $3
		ORDER BY punch_in_at ASC`

	return db.queryPunches(ctx, query, companyCode, from, to)
}

// GetCompanyPunches is the bounded company-wide broad scan.
func (db *DB) GetCompanyPunches(ctx context.Context, companyCode string, limit int) ([]*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE company_code = $1
		LIMIT $2`

	return db.queryPunches(ctx, query, companyCode, limit)
}

// GetUserPunchesPage retrieves one history page, newest first. A non-nil
// before cursor restricts results to punches started strictly earlier.
func (db *DB) GetUserPunchesPage(ctx context.Context, userID string, limit int, before *time.Time) ([]*models.Punch, error) {
	if before != nil {
		query := `
			SELECT ` + punchColumns + `
			FROM punches
			WHERE user_id = $1 AND punch_in_at < $2
			ORDER BY punch_in_at DESC NULLS LAST
			LIMIT $3`
		return db.queryPunches(ctx, query, userID, *before, limit)
	}

	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE user_id = $1
		ORDER BY punch_in_at DESC NULLS LAST
		LIMIT $2`
	return db.queryPunches(ctx, query, userID, limit)
}

// GetRecentPunches returns the user's most recent punches, newest first.
// Rows without a typed start column sort last.
func (db *DB) GetRecentPunches(ctx context.Context, userID string, limit int) ([]*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE user_id = $1
		ORDER BY punch_in_at DESC NULLS LAST
		LIMIT $2`

	return db.queryPunches(ctx, query, userID, limit)
}

// GetRecentClosedPunches returns the user's most recently closed punches.
func (db *DB) GetRecentClosedPunches(ctx context.Context, userID string, limit int) ([]*models.Punch, error) {
	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE user_id = $1 AND punch_out IS NOT NULL
		ORDER BY punch_out_at DESC NULLS LAST
		LIMIT $2`

	return db.queryPunches(ctx, query, userID, limit)
}

func (db *DB) queryPunches(ctx context.Context, query string, args ...any) ([]*models.Punch, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punches []*models.Punch
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, err
		}
		punches = append(punches, p)
	}
	return punches, rows.Err()
}

// GetCompanyByCode retrieves a company, or nil when the code is unknown.
func (db *DB) GetCompanyByCode(ctx context.Context, code string) (*models.Company, error) {
	query := `
		SELECT code, name, geofence_center, geofence_radius_meters, created_at
		FROM companies
		WHERE code = $1`

	c := &models.Company{}
	var center []byte
	err := db.QueryRow(ctx, query, code).Scan(
		&c.Code, &c.Name, &center, &c.GeofenceRadiusMeters, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.GeofenceCenter, err = decodeGeoPoint(center); err != nil {
		return nil, err
	}
	return c, nil
}

// GetUserProfile retrieves the profile for a user id, or nil when absent.
func (db *DB) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `
		SELECT user_id, staff_id, email, company_code, password_hash, created_at
		FROM user_profiles
		WHERE user_id = $1`

	return db.scanProfile(db.QueryRow(ctx, query, userID))
}

// GetUserProfileByEmail retrieves a profile by login email, or nil when absent.
func (db *DB) GetUserProfileByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	query := `
		SELECT user_id, staff_id, email, company_code, password_hash, created_at
		FROM user_profiles
		WHERE email = $1`

	return db.scanProfile(db.QueryRow(ctx, query, email))
}

// GetUserProfileByStaffID retrieves a profile by staff id, or nil when absent.
// Registration uses this to enforce staff id uniqueness.
func (db *DB) GetUserProfileByStaffID(ctx context.Context, staffID string) (*models.UserProfile, error) {
	query := `
		SELECT user_id, staff_id, email, company_code, password_hash, created_at
		FROM user_profiles
		WHERE staff_id = $1
		LIMIT 1`

	return db.scanProfile(db.QueryRow(ctx, query, staffID))
}

func (db *DB) scanProfile(row pgx.Row) (*models.UserProfile, error) {
	u := &models.UserProfile{}
	err := row.Scan(&u.UserID, &u.StaffID, &u.Email, &u.CompanyCode, &u.PasswordHash, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUserProfile stores a new profile.
func (db *DB) CreateUserProfile(ctx context.Context, u *models.UserProfile) error {
	query := `
		INSERT INTO user_profiles (user_id, staff_id, email, company_code, password_hash)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := db.Exec(ctx, query, u.UserID, u.StaffID, u.Email, u.CompanyCode, u.PasswordHash)
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}
