package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	dp "github.com/open-builders/draw-airdrop-bot/internal/domain/participant"
)

var (
	// ErrAddressTaken is returned when the address is already linked to a participant.
	ErrAddressTaken = errors.New("address already registered")
	// ErrReferralCodeTaken is returned when a generated referral code collides.
	ErrReferralCodeTaken = errors.New("referral code already in use")
)

const uniqueViolation = "23505"

// ParticipantRepository persists participants, their addresses and attestations.
type ParticipantRepository struct {
	db *sql.DB
}

func NewParticipantRepository(db *sql.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

const participantColumns = `user_id, referral_code, referred_by, referral_step, created_at`

func scanParticipant(row interface{ Scan(...any) error }) (*dp.Participant, error) {
	var (
		p    dp.Participant
		ref  sql.NullString
		step string
	)
	if err := row.Scan(&p.UserID, &p.ReferralCode, &ref, &step, &p.CreatedAt); err != nil {
		return nil, err
	}
	if ref.Valid {
		v := ref.String
		p.ReferredBy = &v
	}
	p.ReferralStep = dp.ReferralStep(step)
	return &p, nil
}

// GetParticipant returns nil, nil when the user has no participant record.
func (r *ParticipantRepository) GetParticipant(ctx context.Context, userID int64) (*dp.Participant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE user_id=$1`, userID)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetParticipantByCode returns the owner of a referral code or nil.
func (r *ParticipantRepository) GetParticipantByCode(ctx context.Context, code string) (*dp.Participant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE referral_code=$1`, code)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *ParticipantRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE referral_code=$1)`, code).Scan(&exists)
	return exists, err
}

// ListParticipantIDs returns every participant user id, used for broadcasts.
func (r *ParticipantRepository) ListParticipantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM participants ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveVerifiedAddress inserts a proven address, creating the participant first when
// newParticipant is not nil. Both writes happen in one transaction.
func (r *ParticipantRepository) SaveVerifiedAddress(ctx context.Context, newParticipant *dp.Participant, a *dp.Address) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if newParticipant != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO participants (user_id, referral_code, referred_by, referral_step, created_at)
			VALUES ($1,$2,$3,$4,$5)`,
			newParticipant.UserID, newParticipant.ReferralCode, newParticipant.ReferredBy,
			string(newParticipant.ReferralStep), newParticipant.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "participants_referral_code_key") {
				err = ErrReferralCodeTaken
			}
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO addresses (address, user_id, attested, linked_at)
		VALUES ($1,$2,false,$3)`, a.Address, a.UserID, a.LinkedAt)
	if err != nil {
		if isUniqueViolation(err, "addresses_pkey") {
			err = ErrAddressTaken
		}
		return err
	}
	return tx.Commit()
}

const addressColumns = `address, user_id, attested, attested_identity_id, linked_at`

func scanAddress(row interface{ Scan(...any) error }) (*dp.Address, error) {
	var (
		a        dp.Address
		identity sql.NullString
	)
	if err := row.Scan(&a.Address, &a.UserID, &a.Attested, &identity, &a.LinkedAt); err != nil {
		return nil, err
	}
	if identity.Valid {
		v := identity.String
		a.AttestedIdentityID = &v
	}
	return &a, nil
}

func (r *ParticipantRepository) queryAddresses(ctx context.Context, q string, args ...any) ([]dp.Address, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dp.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetAddress returns nil, nil for an unknown address.
func (r *ParticipantRepository) GetAddress(ctx context.Context, address string) (*dp.Address, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM addresses WHERE address=$1`, address)
	a, err := scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListAddressesByUser returns a user's addresses oldest first.
func (r *ParticipantRepository) ListAddressesByUser(ctx context.Context, userID int64) ([]dp.Address, error) {
	return r.queryAddresses(ctx, `SELECT `+addressColumns+` FROM addresses WHERE user_id=$1 ORDER BY linked_at, address`, userID)
}

// ListAllAddresses returns every proven address ordered by address.
func (r *ParticipantRepository) ListAllAddresses(ctx context.Context) ([]dp.Address, error) {
	return r.queryAddresses(ctx, `SELECT `+addressColumns+` FROM addresses ORDER BY address`)
}

// SetReferrer records the referral code only if none is set yet.
func (r *ParticipantRepository) SetReferrer(ctx context.Context, userID int64, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE participants SET referred_by=$2, referral_step='done'
		WHERE user_id=$1 AND referred_by IS NULL`, userID, code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ResetReferrer clears the referral code and moves the dialogue to step.
func (r *ParticipantRepository) ResetReferrer(ctx context.Context, userID int64, step dp.ReferralStep) error {
	_, err := r.db.ExecContext(ctx, `UPDATE participants SET referred_by=NULL, referral_step=$2 WHERE user_id=$1`, userID, string(step))
	return err
}

func (r *ParticipantRepository) SetReferralStep(ctx context.Context, userID int64, step dp.ReferralStep) error {
	_, err := r.db.ExecContext(ctx, `UPDATE participants SET referral_step=$2 WHERE user_id=$1`, userID, string(step))
	return err
}

// UpsertAttestation stores the latest attestation an attestor made for an address.
func (r *ParticipantRepository) UpsertAttestation(ctx context.Context, a *dp.Attestation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attestations (attestor, address, identity_id, attested_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (attestor, address) DO UPDATE SET identity_id=EXCLUDED.identity_id, attested_at=EXCLUDED.attested_at`,
		a.Attestor, a.Address, a.IdentityID, a.AttestedAt)
	return err
}

func (r *ParticipantRepository) ListAttestations(ctx context.Context, address string) ([]dp.Attestation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT attestor, address, identity_id, attested_at FROM attestations
		WHERE address=$1 ORDER BY attested_at, attestor`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dp.Attestation
	for rows.Next() {
		var a dp.Attestation
		if err := rows.Scan(&a.Attestor, &a.Address, &a.IdentityID, &a.AttestedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClaimIdentity marks the address attested with identity unless another address
// already holds that identity. It reports whether the claim succeeded.
func (r *ParticipantRepository) ClaimIdentity(ctx context.Context, address, identity string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE addresses SET attested=true, attested_identity_id=$2
		WHERE address=$1
		  AND NOT EXISTS (SELECT 1 FROM addresses WHERE attested_identity_id=$2 AND address<>$1)`,
		address, identity)
	if err != nil {
		if isUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
