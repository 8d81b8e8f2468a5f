package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/core"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/followup"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/locks"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/mail"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/metrics"
)

// Store is the persistence surface the engine needs. core.Store implements
// it; engine tests use an in-memory fake.
type Store interface {
	Campaign(ctx context.Context, id string) (*core.Campaign, error)
	CampaignAccounts(ctx context.Context, campaignID string) ([]core.CampaignAccount, error)
	PendingRecipients(ctx context.Context, campaignID string) ([]core.Recipient, error)
	MarkRecipientSent(ctx context.Context, recipientID string, rec core.SentRecord) error
	MarkRecipientFailed(ctx context.Context, recipientID, errText string) error
	RecipientCounts(ctx context.Context, campaignID string) (core.StatusCounts, error)
	// TransitionCampaign flips status only when the current status matches
	// from; reports whether the row changed.
	TransitionCampaign(ctx context.Context, id, from, to string) (bool, error)
	ClaimDueScheduled(ctx context.Context, now time.Time) ([]string, error)
	SendingCampaignIDs(ctx context.Context) ([]string, error)
	ParentSentRecord(ctx context.Context, parentCampaignID, email string) (*core.SentRecord, error)
}

type DispatcherOptions struct {
	SendTimeout    time.Duration
	StatusCacheTTL time.Duration // how long a stop-check status read is trusted
	TransportQPS   float64       // process-global outbound ceiling
	TransportBurst int
}

func (o *DispatcherOptions) defaults() {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	if o.StatusCacheTTL <= 0 {
		o.StatusCacheTTL = 2 * time.Second
	}
	if o.TransportQPS <= 0 {
		o.TransportQPS = 50
	}
	if o.TransportBurst <= 0 {
		o.TransportBurst = 100
	}
}

// Dispatcher runs one send pass per campaign: one throttled loop per sender
// account, all joined before the campaign status is recomputed.
type Dispatcher struct {
	store     Store
	transport mail.Transport
	tracker   *locks.Tracker
	clock     Clock
	limiter   *rate.Limiter
	logger    *slog.Logger
	opt       DispatcherOptions

	mu     sync.Mutex
	pacers map[string]*pacer
}

func NewDispatcher(store Store, transport mail.Transport, tracker *locks.Tracker, clock Clock, logger *slog.Logger, opt DispatcherOptions) *Dispatcher {
	opt.defaults()
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		transport: transport,
		tracker:   tracker,
		clock:     clock,
		limiter:   rate.NewLimiter(rate.Limit(opt.TransportQPS), opt.TransportBurst),
		logger:    logger,
		opt:       opt,
		pacers:    make(map[string]*pacer),
	}
}

// pacerFor returns the shared per-account pacer; hourly counters survive
// across passes within this process.
func (d *Dispatcher) pacerFor(accountID string, hourlyLimit int) *pacer {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pacers[accountID]
	if !ok {
		p = newPacer(d.clock, hourlyLimit)
		d.pacers[accountID] = p
		return p
	}
	p.setLimit(hourlyLimit)
	return p
}

// Run executes one dispatch pass for the campaign. Recipients already in a
// terminal state are never touched, so re-running after a crash is safe.
func (d *Dispatcher) Run(ctx context.Context, campaignID string) error {
	camp, err := d.store.Campaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("dispatch %s: load campaign: %w", campaignID, err)
	}
	if camp.Status != core.StatusSending {
		d.logger.Info("dispatch skipped, campaign not sending",
			"campaign_id", campaignID, "status", camp.Status)
		return nil
	}

	accounts, err := d.store.CampaignAccounts(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("dispatch %s: load accounts: %w", campaignID, err)
	}
	pending, err := d.store.PendingRecipients(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("dispatch %s: load recipients: %w", campaignID, err)
	}

	byAccount := make(map[string][]core.Recipient)
	for _, r := range pending {
		byAccount[r.AccountID] = append(byAccount[r.AccountID], r)
	}

	accountIDs := make([]string, 0, len(accounts))
	for _, a := range accounts {
		accountIDs = append(accountIDs, a.AccountID)
	}
	if d.tracker != nil {
		d.tracker.Acquire(ctx, campaignID, accountIDs)
	}

	d.logger.Info("dispatch pass starting",
		"campaign_id", campaignID, "pending", len(pending), "accounts", len(accounts))
	metrics.DispatchInflight.Inc()
	defer metrics.DispatchInflight.Dec()

	status := d.statusReader(campaignID)

	g, gctx := errgroup.WithContext(ctx)
	for _, acct := range accounts {
		queue := byAccount[acct.AccountID]
		if len(queue) == 0 {
			continue
		}
		acct := acct
		g.Go(func() error {
			return d.runAccount(gctx, camp, acct, queue, status)
		})
	}
	if err := g.Wait(); err != nil {
		// context cancellation; pass resumes on next start
		d.recompute(context.WithoutCancel(ctx), campaignID, accountIDs)
		return err
	}

	d.recompute(ctx, campaignID, accountIDs)
	return nil
}

// runAccount drains one account's queue. A transport failure marks that
// recipient failed and abandons the rest of the queue for this pass; the
// untouched recipients stay pending for a later resume.
func (d *Dispatcher) runAccount(ctx context.Context, camp *core.Campaign, acct core.CampaignAccount, queue []core.Recipient, status func(context.Context) (string, error)) error {
	p := d.pacerFor(acct.AccountID, acct.HourlyLimit)
	log := d.logger.With("campaign_id", camp.ID, "account", acct.Address)

	for i, r := range queue {
		st, err := status(ctx)
		if err != nil {
			log.Error("status check failed, ending pass", "error", err)
			return nil
		}
		if st != core.StatusSending {
			log.Info("campaign no longer sending, ending pass", "status", st, "remaining", len(queue)-i)
			return nil
		}

		if err := p.wait(ctx); err != nil {
			return err
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		msg, err := d.render(ctx, camp, acct, r)
		if err != nil {
			d.fail(ctx, log, r, err)
			return nil
		}

		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, d.opt.SendTimeout)
		err = d.transport.Send(sctx, msg)
		cancel()
		metrics.SendDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.fail(ctx, log, r, err)
			return nil
		}

		p.record()
		rec := core.SentRecord{Subject: msg.Subject, Body: msg.HTML, From: msg.From, At: d.clock.Now()}
		if err := d.store.MarkRecipientSent(ctx, r.ID, rec); err != nil {
			log.Error("persist sent outcome failed", "recipient_id", r.ID, "error", err)
			return nil
		}
		metrics.SendTotal.WithLabelValues("sent").Inc()
		if d.tracker != nil {
			d.tracker.Refresh(ctx, []string{acct.AccountID})
		}
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, r core.Recipient, cause error) {
	metrics.SendTotal.WithLabelValues("failed").Inc()
	log.Warn("send failed, aborting account queue for this pass",
		"recipient_id", r.ID, "to", r.Email, "error", cause)
	if err := d.store.MarkRecipientFailed(ctx, r.ID, cause.Error()); err != nil {
		log.Error("persist failed outcome failed", "recipient_id", r.ID, "error", err)
	}
}

// render builds the outgoing message for one recipient. Follow-up campaigns
// quote the parent campaign's stored sent message for the same address.
func (d *Dispatcher) render(ctx context.Context, camp *core.Campaign, acct core.CampaignAccount, r core.Recipient) (mail.Message, error) {
	msg := mail.Message{
		From:    acct.Address,
		To:      r.Email,
		Subject: r.Subject,
		HTML:    r.BodyHTML,
	}
	if camp.SendType != core.SendFollowup {
		return msg, nil
	}
	if camp.ParentCampaignID == nil {
		return msg, fmt.Errorf("followup campaign %s has no parent", camp.ID)
	}
	orig, err := d.store.ParentSentRecord(ctx, *camp.ParentCampaignID, r.Email)
	if err != nil {
		return msg, fmt.Errorf("load original for %s: %w", r.Email, err)
	}
	html, err := followup.Compose(r.BodyHTML, acct.SignatureHTML, followup.Original{
		From:    orig.From,
		To:      r.Email,
		Subject: orig.Subject,
		Body:    orig.Body,
		SentAt:  orig.At,
	})
	if err != nil {
		return msg, err
	}
	msg.HTML = html
	return msg, nil
}

// recompute aggregates recipient outcomes into the campaign status. It runs
// after every pass so an interrupted or resumed campaign never sticks.
func (d *Dispatcher) recompute(ctx context.Context, campaignID string, accountIDs []string) {
	counts, err := d.store.RecipientCounts(ctx, campaignID)
	if err != nil {
		d.logger.Error("status recompute failed", "campaign_id", campaignID, "error", err)
		return
	}
	next := core.RecomputeStatus(counts)
	if next == core.StatusSending {
		return
	}
	changed, err := d.store.TransitionCampaign(ctx, campaignID, core.StatusSending, next)
	if err != nil {
		d.logger.Error("status transition failed", "campaign_id", campaignID, "to", next, "error", err)
		return
	}
	if changed {
		d.logger.Info("campaign finished",
			"campaign_id", campaignID, "status", next,
			"sent", counts.Sent, "failed", counts.Failed)
	}
	if d.tracker != nil {
		d.tracker.Release(ctx, accountIDs)
	}
}

// statusReader returns a short-TTL cached read of the campaign status so the
// per-send stop check stays cheap.
func (d *Dispatcher) statusReader(campaignID string) func(context.Context) (string, error) {
	var mu sync.Mutex
	var cached string
	var at time.Time
	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if cached != "" && d.clock.Now().Sub(at) < d.opt.StatusCacheTTL {
			return cached, nil
		}
		camp, err := d.store.Campaign(ctx, campaignID)
		if err != nil {
			return "", err
		}
		cached = camp.Status
		at = d.clock.Now()
		return cached, nil
	}
}
