package core

import (
	"time"
)

// Campaign lifecycle statuses. Transitions are owned by the engine; the only
// externally-driven transition is sending -> stopped.
const (
	StatusDraft               = "draft"
	StatusScheduled           = "scheduled"
	StatusSending             = "sending"
	StatusStopped             = "stopped"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

// Campaign send types.
const (
	SendImmediate = "immediate"
	SendScheduled = "scheduled"
	SendFollowup  = "followup"
)

// Recipient delivery statuses. pending -> sent|failed is one-way.
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

type Campaign struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	SendType            string     `json:"send_type"`
	Status              string     `json:"status"`
	Subjects            []string   `json:"subjects"`
	BodyHTML            string     `json:"body_html"`
	ScheduledAt         *time.Time `json:"scheduled_at,omitempty"`
	ParentCampaignID    *string    `json:"parent_campaign_id,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type Recipient struct {
	ID          string     `json:"id"`
	CampaignID  string     `json:"campaign_id"`
	Email       string     `json:"email"`
	Status      string     `json:"status"`
	AccountID   string     `json:"account_id"`
	Subject     string     `json:"subject"`
	BodyHTML    string     `json:"-"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	SentSubject *string    `json:"sent_subject,omitempty"`
	SentBody    *string    `json:"sent_body,omitempty"`
	SentFrom    *string    `json:"sent_from,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// SenderAccount is read-only from the engine's perspective; transport
// credentials live in the deployment environment, not here.
type SenderAccount struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	Provider      string    `json:"provider"`
	SignatureHTML string    `json:"signature_html,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CampaignAccount is one sender bound to a campaign, with its effective
// hourly limit already resolved (campaign override or provider default).
type CampaignAccount struct {
	AccountID     string
	Address       string
	Provider      string
	SignatureHTML string
	HourlyLimit   int
}

// SentRecord is what the dispatcher persists on success; the follow-up
// composer needs these fields verbatim.
type SentRecord struct {
	Subject string
	Body    string
	From    string
	At      time.Time
}

// StatusCounts aggregates recipient outcomes for one campaign.
type StatusCounts struct {
	Sent    int
	Failed  int
	Pending int
}

func (c StatusCounts) Total() int { return c.Sent + c.Failed + c.Pending }

// RecomputeStatus derives the campaign status from recipient outcomes.
// Any pending recipient keeps the campaign in sending.
func RecomputeStatus(c StatusCounts) string {
	switch {
	case c.Pending > 0:
		return StatusSending
	case c.Sent > 0 && c.Failed == 0:
		return StatusCompleted
	case c.Sent == 0 && c.Failed > 0:
		return StatusFailed
	case c.Sent > 0 && c.Failed > 0:
		return StatusCompletedWithErrors
	default:
		// no recipients at all; nothing to send
		return StatusCompleted
	}
}

// AccountProgress is the per-account slice of a progress query.
type AccountProgress struct {
	AccountID        string  `json:"account_id"`
	Address          string  `json:"address"`
	Processing       int     `json:"processing"`
	Completed        int     `json:"completed"`
	EstimatedSeconds float64 `json:"estimated_seconds_remaining"`
}
