package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/limits"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/plan"
)

type Store struct{ DB *pgxpool.Pool }

var (
	ErrNotFound         = errors.New("not_found")
	ErrNameTaken        = errors.New("campaign_name_taken")
	ErrAccountLocked    = errors.New("sender_account_locked")
	ErrScheduleConflict = errors.New("schedule_window_conflict")
	ErrInvalid          = errors.New("invalid_campaign")
	ErrUnknownAccount   = errors.New("unknown_sender_account")
	ErrNoSentParent     = errors.New("parent_campaign_has_no_sent_recipients")
)

type CreateCampaignParams struct {
	Name           string
	SendType       string // immediate | scheduled
	Subjects       []string
	Bodies         []string // one or more pitch body variants
	Recipients     []string // email addresses
	AccountIDs     []string
	LimitOverrides map[string]int // account ID -> hourly limit
	ScheduledAt    *time.Time
}

type FollowupParams struct {
	ParentCampaignID string
	Name             string
	Subjects         []string
	Bodies           []string
	// AccountIDs redistributes senders; empty inherits the parent's
	// per-recipient mapping for thread continuity.
	AccountIDs     []string
	LimitOverrides map[string]int
}

// CreateAccount registers a sender account the engine may dispatch through.
func (s *Store) CreateAccount(ctx context.Context, address, provider, signatureHTML string) (*SenderAccount, error) {
	a := &SenderAccount{ID: uuid.NewString(), Address: address, Provider: provider, SignatureHTML: signatureHTML}
	err := s.DB.QueryRow(ctx, `
		INSERT INTO sender_accounts(id, address, provider, signature_html)
		VALUES($1,$2,$3,$4)
		RETURNING created_at
	`, a.ID, a.Address, a.Provider, a.SignatureHTML).Scan(&a.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: address %s", ErrNameTaken, address)
	}
	return a, err
}

func (s *Store) Accounts(ctx context.Context) ([]SenderAccount, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, address, provider, signature_html, created_at
		FROM sender_accounts ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SenderAccount
	for rows.Next() {
		var a SenderAccount
		if err := rows.Scan(&a.ID, &a.Address, &a.Provider, &a.SignatureHTML, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateCampaign validates, plans the distribution, bulk-inserts recipients
// and persists the campaign in one transaction. Immediate campaigns come out
// in sending status; scheduled ones in scheduled.
func (s *Store) CreateCampaign(ctx context.Context, p CreateCampaignParams) (*Campaign, error) {
	if p.Name == "" || len(p.Recipients) == 0 || len(p.AccountIDs) == 0 || len(p.Subjects) == 0 || len(p.Bodies) == 0 {
		return nil, fmt.Errorf("%w: name, recipients, accounts, subjects and bodies are required", ErrInvalid)
	}
	switch p.SendType {
	case SendImmediate:
		if p.ScheduledAt != nil {
			return nil, fmt.Errorf("%w: immediate campaign cannot carry a schedule time", ErrInvalid)
		}
	case SendScheduled:
		if p.ScheduledAt == nil {
			return nil, fmt.Errorf("%w: scheduled campaign requires scheduled_at", ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: send_type %q", ErrInvalid, p.SendType)
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	accounts, err := accountsByIDs(ctx, tx, p.AccountIDs)
	if err != nil {
		return nil, err
	}

	status := StatusSending
	if p.SendType == SendScheduled {
		status = StatusScheduled
		conflict, err := hasScheduleConflict(ctx, tx, p.AccountIDs, *p.ScheduledAt)
		if err != nil {
			return nil, err
		}
		if conflict {
			return nil, ErrScheduleConflict
		}
	} else {
		busy, err := busyAccountIDs(ctx, tx)
		if err != nil {
			return nil, err
		}
		for _, id := range p.AccountIDs {
			if _, locked := busy[id]; locked {
				return nil, fmt.Errorf("%w: %s", ErrAccountLocked, id)
			}
		}
	}

	dist, err := plan.Build(len(p.Recipients), p.AccountIDs, p.Subjects, p.Bodies, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	capacity := 0
	for _, a := range accounts {
		capacity += limits.Resolve(a.Provider, p.LimitOverrides[a.ID])
	}
	eta := estimatedCompletion(time.Now(), len(p.Recipients), capacity)

	c := &Campaign{
		ID:                  uuid.NewString(),
		Name:                p.Name,
		SendType:            p.SendType,
		Status:              status,
		Subjects:            p.Subjects,
		BodyHTML:            p.Bodies[0],
		ScheduledAt:         p.ScheduledAt,
		EstimatedCompletion: &eta,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO campaigns(id, name, send_type, status, body_html, scheduled_at, estimated_completion)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at
	`, c.ID, c.Name, c.SendType, c.Status, c.BodyHTML, c.ScheduledAt, c.EstimatedCompletion).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, p.Name)
	}
	if err != nil {
		return nil, err
	}

	if err := insertCampaignLists(ctx, tx, c.ID, p.Subjects, p.AccountIDs, p.LimitOverrides); err != nil {
		return nil, err
	}

	recRows := make([][]any, len(p.Recipients))
	for i, email := range p.Recipients {
		recRows[i] = []any{uuid.NewString(), c.ID, email, RecipientPending, dist.Accounts[i], dist.Subjects[i], dist.Bodies[i]}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"recipients"},
		[]string{"id", "campaign_id", "email", "status", "account_id", "subject", "body_html"},
		pgx.CopyFromRows(recRows),
	); err != nil {
		return nil, fmt.Errorf("bulk insert recipients: %w", err)
	}

	return c, tx.Commit(ctx)
}

// CreateFollowup derives a draft follow-up campaign from the parent's sent
// recipients. Launching it is a separate transition (draft -> sending).
func (s *Store) CreateFollowup(ctx context.Context, p FollowupParams) (*Campaign, error) {
	if p.Name == "" || len(p.Subjects) == 0 || len(p.Bodies) == 0 {
		return nil, fmt.Errorf("%w: name, subjects and bodies are required", ErrInvalid)
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	parent, err := campaign(ctx, tx, p.ParentCampaignID)
	if err != nil {
		return nil, err
	}

	// only recipients the original actually reached can be followed up
	rows, err := tx.Query(ctx, `
		SELECT email, account_id FROM recipients
		WHERE campaign_id=$1 AND status=$2
		ORDER BY email
	`, parent.ID, RecipientSent)
	if err != nil {
		return nil, err
	}
	var emails, parentAccounts []string
	for rows.Next() {
		var email, acct string
		if err := rows.Scan(&email, &acct); err != nil {
			rows.Close()
			return nil, err
		}
		emails = append(emails, email)
		parentAccounts = append(parentAccounts, acct)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, ErrNoSentParent
	}

	accountIDs := p.AccountIDs
	inherit := len(accountIDs) == 0
	if inherit {
		accountIDs = dedupe(parentAccounts)
	}

	busy, err := busyAccountIDs(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, id := range accountIDs {
		if _, locked := busy[id]; locked {
			return nil, fmt.Errorf("%w: %s", ErrAccountLocked, id)
		}
	}

	accounts, err := accountsByIDs(ctx, tx, accountIDs)
	if err != nil {
		return nil, err
	}

	dist, err := plan.Build(len(emails), accountIDs, p.Subjects, p.Bodies, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if inherit {
		// keep the original thread's from-address per recipient
		dist.Accounts = parentAccounts
	}

	capacity := 0
	for _, a := range accounts {
		capacity += limits.Resolve(a.Provider, p.LimitOverrides[a.ID])
	}
	eta := estimatedCompletion(time.Now(), len(emails), capacity)

	c := &Campaign{
		ID:                  uuid.NewString(),
		Name:                p.Name,
		SendType:            SendFollowup,
		Status:              StatusDraft,
		Subjects:            p.Subjects,
		BodyHTML:            p.Bodies[0],
		ParentCampaignID:    &parent.ID,
		EstimatedCompletion: &eta,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO campaigns(id, name, send_type, status, body_html, parent_campaign_id, estimated_completion)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at
	`, c.ID, c.Name, c.SendType, c.Status, c.BodyHTML, c.ParentCampaignID, c.EstimatedCompletion).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, p.Name)
	}
	if err != nil {
		return nil, err
	}

	if err := insertCampaignLists(ctx, tx, c.ID, p.Subjects, accountIDs, p.LimitOverrides); err != nil {
		return nil, err
	}

	recRows := make([][]any, len(emails))
	for i, email := range emails {
		recRows[i] = []any{uuid.NewString(), c.ID, email, RecipientPending, dist.Accounts[i], dist.Subjects[i], dist.Bodies[i]}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"recipients"},
		[]string{"id", "campaign_id", "email", "status", "account_id", "subject", "body_html"},
		pgx.CopyFromRows(recRows),
	); err != nil {
		return nil, fmt.Errorf("bulk insert recipients: %w", err)
	}

	return c, tx.Commit(ctx)
}

func (s *Store) Campaign(ctx context.Context, id string) (*Campaign, error) {
	return campaign(ctx, s.DB, id)
}

func (s *Store) Campaigns(ctx context.Context, limit, offset int) ([]Campaign, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, send_type, status, body_html, scheduled_at, parent_campaign_id,
		       estimated_completion, created_at, updated_at
		FROM campaigns ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.SendType, &c.Status, &c.BodyHTML, &c.ScheduledAt,
			&c.ParentCampaignID, &c.EstimatedCompletion, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CampaignAccounts resolves each bound account's effective hourly limit.
func (s *Store) CampaignAccounts(ctx context.Context, campaignID string) ([]CampaignAccount, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT a.id, a.address, a.provider, a.signature_html, COALESCE(ca.hourly_limit, 0)
		FROM campaign_accounts ca
		JOIN sender_accounts a ON a.id = ca.account_id
		WHERE ca.campaign_id = $1
		ORDER BY a.address
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CampaignAccount
	for rows.Next() {
		var a CampaignAccount
		var override int
		if err := rows.Scan(&a.AccountID, &a.Address, &a.Provider, &a.SignatureHTML, &override); err != nil {
			return nil, err
		}
		a.HourlyLimit = limits.Resolve(a.Provider, override)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) PendingRecipients(ctx context.Context, campaignID string) ([]Recipient, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, campaign_id, email, status, account_id, subject, body_html
		FROM recipients
		WHERE campaign_id=$1 AND status=$2
		ORDER BY email
	`, campaignID, RecipientPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.Email, &r.Status, &r.AccountID, &r.Subject, &r.BodyHTML); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRecipientSent persists the delivered message verbatim. The pending
// guard makes the pending->sent transition one-way and idempotent.
func (s *Store) MarkRecipientSent(ctx context.Context, recipientID string, rec SentRecord) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE recipients
		SET status=$2, sent_at=$3, sent_subject=$4, sent_body=$5, sent_from=$6, last_error=NULL
		WHERE id=$1 AND status=$7
	`, recipientID, RecipientSent, rec.At, rec.Subject, rec.Body, rec.From, RecipientPending)
	return err
}

func (s *Store) MarkRecipientFailed(ctx context.Context, recipientID, errText string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE recipients SET status=$2, last_error=$3
		WHERE id=$1 AND status=$4
	`, recipientID, RecipientFailed, errText, RecipientPending)
	return err
}

func (s *Store) RecipientCounts(ctx context.Context, campaignID string) (StatusCounts, error) {
	var c StatusCounts
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status='sent'),
		       COUNT(*) FILTER (WHERE status='failed'),
		       COUNT(*) FILTER (WHERE status='pending')
		FROM recipients WHERE campaign_id=$1
	`, campaignID).Scan(&c.Sent, &c.Failed, &c.Pending)
	return c, err
}

// TransitionCampaign flips status only when the current value matches from.
func (s *Store) TransitionCampaign(ctx context.Context, id, from, to string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$3, updated_at=now()
		WHERE id=$1 AND status=$2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// StopCampaign is the external stop request: sending -> stopped.
func (s *Store) StopCampaign(ctx context.Context, id string) (bool, error) {
	return s.TransitionCampaign(ctx, id, StatusSending, StatusStopped)
}

// ClaimDueScheduled atomically promotes due scheduled campaigns to sending
// and returns their IDs. SKIP LOCKED keeps a double tick (or second engine
// instance) from claiming the same campaign twice.
func (s *Store) ClaimDueScheduled(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id FROM campaigns
		WHERE status=$1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		FOR UPDATE SKIP LOCKED
	`, StatusScheduled, now)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE campaigns SET status=$2, updated_at=now() WHERE id = ANY($1)
	`, ids, StatusSending); err != nil {
		return nil, err
	}
	return ids, tx.Commit(ctx)
}

func (s *Store) SendingCampaignIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM campaigns WHERE status=$1 ORDER BY created_at`, StatusSending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ParentSentRecord loads what was actually delivered to this address in the
// parent campaign; the follow-up composer quotes it verbatim.
func (s *Store) ParentSentRecord(ctx context.Context, parentCampaignID, email string) (*SentRecord, error) {
	var rec SentRecord
	err := s.DB.QueryRow(ctx, `
		SELECT sent_subject, sent_body, sent_from, sent_at
		FROM recipients
		WHERE campaign_id=$1 AND email=$2 AND status=$3
	`, parentCampaignID, email, RecipientSent).Scan(&rec.Subject, &rec.Body, &rec.From, &rec.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no sent original for %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// BusyAccountIDs is the lock tracker's authoritative scan: accounts bound to
// any sending campaign, plus accounts assigned to those campaigns'
// recipients (covers accounts added mid-flight).
func (s *Store) BusyAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT ca.account_id FROM campaign_accounts ca
		JOIN campaigns c ON c.id = ca.campaign_id
		WHERE c.status = $1
		UNION
		SELECT r.account_id FROM recipients r
		JOIN campaigns c ON c.id = r.campaign_id
		WHERE c.status = $1
	`, StatusSending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Progress reports, per account, how many recipients are still pending, how
// many are done, and a remaining-time estimate from the effective limit.
func (s *Store) Progress(ctx context.Context, campaignID string) ([]AccountProgress, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT a.id, a.address, a.provider, COALESCE(ca.hourly_limit, 0),
		       COUNT(r.id) FILTER (WHERE r.status = 'pending'),
		       COUNT(r.id) FILTER (WHERE r.status IN ('sent','failed'))
		FROM campaign_accounts ca
		JOIN sender_accounts a ON a.id = ca.account_id
		LEFT JOIN recipients r ON r.campaign_id = ca.campaign_id AND r.account_id = ca.account_id
		WHERE ca.campaign_id = $1
		GROUP BY a.id, a.address, a.provider, ca.hourly_limit
		ORDER BY a.address
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountProgress
	for rows.Next() {
		var p AccountProgress
		var provider string
		var override int
		if err := rows.Scan(&p.AccountID, &p.Address, &provider, &override, &p.Processing, &p.Completed); err != nil {
			return nil, err
		}
		limit := limits.Resolve(provider, override)
		p.EstimatedSeconds = float64(p.Processing) * limits.Interval(limit).Seconds()
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- helpers ---

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func campaign(ctx context.Context, q querier, id string) (*Campaign, error) {
	var c Campaign
	err := q.QueryRow(ctx, `
		SELECT id, name, send_type, status, body_html, scheduled_at, parent_campaign_id,
		       estimated_completion, created_at, updated_at
		FROM campaigns WHERE id=$1
	`, id).Scan(&c.ID, &c.Name, &c.SendType, &c.Status, &c.BodyHTML, &c.ScheduledAt,
		&c.ParentCampaignID, &c.EstimatedCompletion, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: campaign %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT subject FROM campaign_subjects WHERE campaign_id=$1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var subj string
		if err := rows.Scan(&subj); err != nil {
			return nil, err
		}
		c.Subjects = append(c.Subjects, subj)
	}
	return &c, rows.Err()
}

func accountsByIDs(ctx context.Context, q querier, ids []string) ([]SenderAccount, error) {
	rows, err := q.Query(ctx, `
		SELECT id, address, provider, signature_html, created_at
		FROM sender_accounts WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]SenderAccount)
	for rows.Next() {
		var a SenderAccount
		if err := rows.Scan(&a.ID, &a.Address, &a.Provider, &a.SignatureHTML, &a.CreatedAt); err != nil {
			return nil, err
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]SenderAccount, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
		}
		out = append(out, a)
	}
	return out, nil
}

func busyAccountIDs(ctx context.Context, q querier) (map[string]struct{}, error) {
	rows, err := q.Query(ctx, `
		SELECT ca.account_id FROM campaign_accounts ca
		JOIN campaigns c ON c.id = ca.campaign_id
		WHERE c.status = $1
		UNION
		SELECT r.account_id FROM recipients r
		JOIN campaigns c ON c.id = r.campaign_id
		WHERE c.status = $1
	`, StatusSending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

// hasScheduleConflict checks the +-2h non-overlap window per account for
// scheduled campaigns.
func hasScheduleConflict(ctx context.Context, q querier, accountIDs []string, at time.Time) (bool, error) {
	var conflict bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaigns c
			JOIN campaign_accounts ca ON ca.campaign_id = c.id
			WHERE ca.account_id = ANY($1)
			  AND c.status IN ($2, $3)
			  AND c.scheduled_at IS NOT NULL
			  AND c.scheduled_at BETWEEN $4::timestamptz - interval '2 hours'
			                         AND $4::timestamptz + interval '2 hours'
		)
	`, accountIDs, StatusScheduled, StatusSending, at).Scan(&conflict)
	return conflict, err
}

func insertCampaignLists(ctx context.Context, tx pgx.Tx, campaignID string, subjects, accountIDs []string, overrides map[string]int) error {
	for i, subj := range subjects {
		if _, err := tx.Exec(ctx, `
			INSERT INTO campaign_subjects(campaign_id, position, subject) VALUES($1,$2,$3)
		`, campaignID, i, subj); err != nil {
			return err
		}
	}
	for _, id := range accountIDs {
		var override *int
		if n, ok := overrides[id]; ok && n > 0 {
			override = &n
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO campaign_accounts(campaign_id, account_id, hourly_limit) VALUES($1,$2,$3)
		`, campaignID, id, override); err != nil {
			return err
		}
	}
	return nil
}

// estimatedCompletion derives the finish estimate from total recipients over
// total hourly capacity.
func estimatedCompletion(from time.Time, recipients, hourlyCapacity int) time.Time {
	if hourlyCapacity <= 0 {
		hourlyCapacity = limits.DefaultHourly
	}
	hours := float64(recipients) / float64(hourlyCapacity)
	return from.Add(time.Duration(math.Ceil(hours * float64(time.Hour))))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
