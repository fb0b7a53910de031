package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/models"

	"github.com/lib/pq"
)

const recordColumns = `session_id, channel, user_identifier, current_step, form_data, metadata,
	reference_code, reference_code_expires_at, expires_at, created_at, updated_at`

// PostgresStore keeps records in the application_states table with formData
// and metadata as JSONB documents.
type PostgresStore struct {
	db   *sql.DB
	opts Options
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB, opts Options) *PostgresStore {
	return &PostgresStore{db: db, opts: opts.withDefaults()}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.ApplicationRecord, error) {
	var (
		rec          models.ApplicationRecord
		channel      string
		step         string
		formData     []byte
		metadata     []byte
		code         sql.NullString
		codeExpireAt sql.NullTime
	)
	err := row.Scan(&rec.SessionID, &channel, &rec.UserIdentifier, &step, &formData, &metadata,
		&code, &codeExpireAt, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Channel = models.Channel(channel)
	if rec.CurrentStep, err = models.ParseStep(step); err != nil {
		return nil, fmt.Errorf("session %s: %w", rec.SessionID, err)
	}
	if err := json.Unmarshal(formData, &rec.FormData); err != nil {
		return nil, fmt.Errorf("session %s: decode form_data: %w", rec.SessionID, err)
	}
	if rec.FormData == nil {
		rec.FormData = models.Document{}
	}
	if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("session %s: decode metadata: %w", rec.SessionID, err)
	}
	if code.Valid {
		rec.ReferenceCode = NormalizeCode(code.String)
	}
	if codeExpireAt.Valid {
		t := codeExpireAt.Time.UTC()
		rec.ReferenceCodeExpiresAt = &t
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func encodeDocuments(rec *models.ApplicationRecord) ([]byte, []byte, error) {
	formData := rec.FormData
	if formData == nil {
		formData = models.Document{}
	}
	fd, err := json.Marshal(formData)
	if err != nil {
		return nil, nil, fmt.Errorf("encode form_data: %w", err)
	}
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return fd, md, nil
}

func nullableCode(code string) sql.NullString {
	return sql.NullString{String: code, Valid: code != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStore) Create(ctx context.Context, channel models.Channel, userIdentifier string) (*models.ApplicationRecord, error) {
	userIdentifier = SanitizeIdentifier(userIdentifier)
	if err := validateCreate(channel, userIdentifier); err != nil {
		return nil, err
	}

	rec := newRecord(NewSessionID(channel), channel, userIdentifier, s.opts.Now(), s.opts.ttl(channel))
	fd, md, err := encodeDocuments(rec)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO application_states (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7, $8, $9)`,
		rec.SessionID, string(rec.Channel), rec.UserIdentifier, rec.CurrentStep.String(), fd, md,
		rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperrors.NewConflictError("session id collision: " + rec.SessionID)
		}
		return nil, apperrors.NewDatabaseOperationFailedError("create", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*models.ApplicationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM application_states WHERE session_id = $1`, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("sessionId: " + sessionID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("get", err)
	}
	return rec, nil
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of the mutator.
func (s *PostgresStore) Update(ctx context.Context, sessionID string, mutate Mutator) (*models.ApplicationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM application_states WHERE session_id = $1 FOR UPDATE`, sessionID)
	current, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("sessionId: " + sessionID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("select for update", err)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.SessionID = current.SessionID
	next.Channel = current.Channel
	next.CreatedAt = current.CreatedAt
	next.ReferenceCode = NormalizeCode(next.ReferenceCode)
	next.UpdatedAt = s.opts.Now()

	fd, md, err := encodeDocuments(next)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE application_states
		SET user_identifier = $2, current_step = $3, form_data = $4, metadata = $5,
			reference_code = $6, reference_code_expires_at = $7, expires_at = $8, updated_at = $9
		WHERE session_id = $1`,
		next.SessionID, next.UserIdentifier, next.CurrentStep.String(), fd, md,
		nullableCode(next.ReferenceCode), nullableTime(next.ReferenceCodeExpiresAt), next.ExpiresAt, next.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("commit", err)
	}
	return next, nil
}

func (s *PostgresStore) FindByReferenceCode(ctx context.Context, code string) (*models.ApplicationRecord, error) {
	live, err := s.FindAllByReferenceCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return live[0], nil
}

func (s *PostgresStore) FindAllByReferenceCode(ctx context.Context, code string) ([]*models.ApplicationRecord, error) {
	code = NormalizeCode(code)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM application_states WHERE reference_code = $1 ORDER BY updated_at DESC`, code)
	if err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("find by reference code", err)
	}
	defer rows.Close()

	var candidates []*models.ApplicationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseOperationFailedError("scan", err)
		}
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("find by reference code", err)
	}
	return pickLive(code, candidates, s.opts.Now())
}

func (s *PostgresStore) FindByUserIdentifier(ctx context.Context, channel models.Channel, userIdentifier string) (*models.ApplicationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM application_states
		WHERE channel = $1 AND user_identifier = $2 AND expires_at > $3
		ORDER BY updated_at DESC
		LIMIT 1`,
		string(channel), userIdentifier, s.opts.Now(),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("userIdentifier: " + userIdentifier)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("find by user identifier", err)
	}
	return rec, nil
}

// ClaimReferenceCode inserts the claim or takes over an expired one in a single
// statement, so concurrent claimants of one code cannot both succeed.
func (s *PostgresStore) ClaimReferenceCode(ctx context.Context, code, holder string, expiresAt time.Time) error {
	code = NormalizeCode(code)
	now := s.opts.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reference_codes (code, holder, expires_at, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at, claimed_at = EXCLUDED.claimed_at
		WHERE reference_codes.expires_at <= $4 OR reference_codes.holder = EXCLUDED.holder`,
		code, holder, expiresAt, now,
	)
	if err != nil {
		return apperrors.NewDatabaseOperationFailedError("claim reference code", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseOperationFailedError("claim reference code", err)
	}
	if n == 0 {
		return apperrors.NewConflictError("referenceCode already in use: " + code)
	}
	return nil
}

func (s *PostgresStore) RenewReferenceCode(ctx context.Context, code string, expiresAt time.Time) error {
	code = NormalizeCode(code)
	res, err := s.db.ExecContext(ctx,
		`UPDATE reference_codes SET expires_at = $2 WHERE code = $1 AND expires_at > $3`,
		code, expiresAt, s.opts.Now(),
	)
	if err != nil {
		return apperrors.NewDatabaseOperationFailedError("renew reference code", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseOperationFailedError("renew reference code", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("referenceCode: " + code)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.ApplicationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM application_states`
	args := []interface{}{}
	if status := strings.ToLower(strings.TrimSpace(filter.Status)); status != "" {
		query += ` WHERE metadata->>'status' = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("list", err)
	}
	defer rows.Close()

	var out []*models.ApplicationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseOperationFailedError("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseOperationFailedError("list", err)
	}
	return out, nil
}
