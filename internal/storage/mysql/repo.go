package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"handyhub/internal/domain"
)

const errDupEntry = 1062

func isDuplicate(err error) bool {
	var me *mysqldrv.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- engagements ----

func (r *Repo) CreateEngagement(ctx context.Context, e domain.Engagement) error {
	_, err := r.db.ExecContext(ctx, insertEngagementSQL,
		e.ID, e.ClientID, e.ProviderID, e.DetailsText, string(e.Status),
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	return err
}

type scanner interface{ Scan(dest ...any) error }

func scanEngagement(s scanner) (domain.Engagement, error) {
	var e domain.Engagement
	var status string
	if err := s.Scan(&e.ID, &e.ClientID, &e.ProviderID, &e.DetailsText, &status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.Engagement{}, err
	}
	e.Status = domain.Status(status)
	return e, nil
}

func (r *Repo) GetEngagement(ctx context.Context, id string) (domain.Engagement, error) {
	e, err := scanEngagement(r.db.QueryRowContext(ctx, getEngagementSQL, id))
	if err == sql.ErrNoRows {
		return domain.Engagement{}, domain.ErrNotFound
	}
	return e, err
}

func (r *Repo) ListEngagements(ctx context.Context, participantID string, limit int) ([]domain.Engagement, error) {
	rows, err := r.db.QueryContext(ctx, listEngagementsSQL, participantID, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) TransitionEngagement(ctx context.Context, id string, from []domain.Status, to domain.Status, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{string(to), at.UTC(), id}
	marks := make([]string, 0, len(from))
	for _, s := range from {
		marks = append(marks, "?")
		args = append(args, string(s))
	}
	res, err := r.db.ExecContext(ctx, transitionSQLPrefix+"("+strings.Join(marks, ",")+")", args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---- messages ----

// InsertMessage is idempotent on the message id.
func (r *Repo) InsertMessage(ctx context.Context, m domain.Message) error {
	_, err := r.db.ExecContext(ctx, insertMessageSQL, m.ID, m.EngagementID, m.SenderID, m.Text, m.CreatedAt.UTC())
	if isDuplicate(err) {
		return nil
	}
	return err
}

func scanMessage(s scanner) (domain.Message, error) {
	var m domain.Message
	err := s.Scan(&m.ID, &m.EngagementID, &m.SenderID, &m.Text, &m.CreatedAt)
	return m, err
}

func (r *Repo) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, getMessageSQL, id))
	if err == sql.ErrNoRows {
		return domain.Message{}, domain.ErrNotFound
	}
	return m, err
}

func (r *Repo) ListMessages(ctx context.Context, engagementID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, listMessagesSQL, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- reviews & aggregate ----

// InsertReview runs insert + recompute + write-back in one transaction while
// holding the provider's account row lock, so concurrent submits for the same
// provider serialize and no aggregate update is lost.
func (r *Repo) InsertReview(ctx context.Context, rv domain.Review) (domain.RatingSummary, error) {
	var sum domain.RatingSummary
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockAccount(ctx, tx, rv.ProviderID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertReviewSQL,
			rv.ID, rv.EngagementID, rv.ProviderID, rv.ClientID, rv.Rating, rv.Comment, rv.CreatedAt.UTC(),
		); err != nil {
			if isDuplicate(err) {
				return domain.ErrDuplicateReview
			}
			return fmt.Errorf("insert review: %w", err)
		}
		var err error
		sum, err = recompute(ctx, tx, rv.ProviderID)
		return err
	})
	return sum, err
}

func (r *Repo) RecomputeRating(ctx context.Context, providerID string) (domain.RatingSummary, error) {
	var sum domain.RatingSummary
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockAccount(ctx, tx, providerID); err != nil {
			return err
		}
		var err error
		sum, err = recompute(ctx, tx, providerID)
		return err
	})
	return sum, err
}

func (r *Repo) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func lockAccount(ctx context.Context, tx *sql.Tx, providerID string) error {
	var id string
	err := tx.QueryRowContext(ctx, lockAccountSQL, providerID).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

func recompute(ctx context.Context, tx *sql.Tx, providerID string) (domain.RatingSummary, error) {
	sum := domain.RatingSummary{ProviderID: providerID}
	if err := tx.QueryRowContext(ctx, aggregateSQL, providerID).Scan(&sum.AvgRating, &sum.ReviewCount); err != nil {
		return domain.RatingSummary{}, fmt.Errorf("aggregate reviews: %w", err)
	}
	if _, err := tx.ExecContext(ctx, writeAggregateSQL, sum.AvgRating, sum.ReviewCount, providerID); err != nil {
		return domain.RatingSummary{}, fmt.Errorf("write aggregate: %w", err)
	}
	return sum, nil
}

func (r *Repo) HasReview(ctx context.Context, providerID, clientID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, hasReviewSQL, providerID, clientID).Scan(&ok)
	return ok, err
}

func (r *Repo) ListReviews(ctx context.Context, providerID string, limit int) ([]domain.Review, error) {
	rows, err := r.db.QueryContext(ctx, listReviewsSQL, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Review
	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(&rv.ID, &rv.EngagementID, &rv.ProviderID, &rv.ClientID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *Repo) ListRatedProviders(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, listRatedProvidersSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- accounts / profiles ----

func (r *Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx, getAccountSQL, id).
		Scan(&a.ID, &a.DisplayName, &avatar, &a.IsProvider, &a.AvgRating, &a.ReviewCount)
	if err == sql.ErrNoRows {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}
	if avatar.Valid {
		a.AvatarURL = avatar.String
	}
	return a, nil
}

func (r *Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	a, err := r.GetAccount(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	return a.Profile(), nil
}

// UpsertAccount mirrors a profile-store record locally. Aggregate columns are
// left alone on update.
func (r *Repo) UpsertAccount(ctx context.Context, a domain.Account) error {
	_, err := r.db.ExecContext(ctx, upsertAccountSQL, a.ID, a.DisplayName, valStr(a.AvatarURL), a.IsProvider)
	return err
}
