package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/core"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/mail"
)

// fakeClock advances instantly on Sleep so throttling tests are
// deterministic and fast.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

// memStore is an in-memory engine.Store for dispatcher tests.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[string]*core.Campaign
	accounts   map[string][]core.CampaignAccount
	recipients map[string][]*core.Recipient
	due        []string // drained by one ClaimDueScheduled call

	// afterMark runs after every recipient outcome write, with the total
	// number of marked recipients; tests use it to flip status mid-pass.
	afterMark func(marked int)
	marked    int
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:  make(map[string]*core.Campaign),
		accounts:   make(map[string][]core.CampaignAccount),
		recipients: make(map[string][]*core.Recipient),
	}
}

func (m *memStore) addCampaign(c *core.Campaign, accounts []core.CampaignAccount, recs []*core.Recipient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
	m.accounts[c.ID] = accounts
	m.recipients[c.ID] = recs
}

func (m *memStore) Campaign(ctx context.Context, id string) (*core.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", core.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CampaignAccounts(ctx context.Context, id string) ([]core.CampaignAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.CampaignAccount(nil), m.accounts[id]...), nil
}

func (m *memStore) PendingRecipients(ctx context.Context, id string) ([]core.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Recipient
	for _, r := range m.recipients[id] {
		if r.Status == core.RecipientPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) MarkRecipientSent(ctx context.Context, id string, rec core.SentRecord) error {
	m.mu.Lock()
	for _, rs := range m.recipients {
		for _, r := range rs {
			if r.ID == id && r.Status == core.RecipientPending {
				r.Status = core.RecipientSent
				at := rec.At
				subj, body, from := rec.Subject, rec.Body, rec.From
				r.SentAt, r.SentSubject, r.SentBody, r.SentFrom = &at, &subj, &body, &from
			}
		}
	}
	m.marked++
	n := m.marked
	hook := m.afterMark
	m.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (m *memStore) MarkRecipientFailed(ctx context.Context, id, errText string) error {
	m.mu.Lock()
	for _, rs := range m.recipients {
		for _, r := range rs {
			if r.ID == id && r.Status == core.RecipientPending {
				r.Status = core.RecipientFailed
				r.LastError = &errText
			}
		}
	}
	m.marked++
	n := m.marked
	hook := m.afterMark
	m.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (m *memStore) RecipientCounts(ctx context.Context, id string) (core.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c core.StatusCounts
	for _, r := range m.recipients[id] {
		switch r.Status {
		case core.RecipientSent:
			c.Sent++
		case core.RecipientFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c, nil
}

func (m *memStore) TransitionCampaign(ctx context.Context, id, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (m *memStore) setStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].Status = status
}

func (m *memStore) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.campaigns[id].Status
}

func (m *memStore) recipient(campaignID, email string) core.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients[campaignID] {
		if r.Email == email {
			return *r
		}
	}
	return core.Recipient{}
}

func (m *memStore) ClaimDueScheduled(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.due
	m.due = nil
	for _, id := range ids {
		if c, ok := m.campaigns[id]; ok && c.Status == core.StatusScheduled {
			c.Status = core.StatusSending
		}
	}
	return ids, nil
}

func (m *memStore) SendingCampaignIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, c := range m.campaigns {
		if c.Status == core.StatusSending {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) ParentSentRecord(ctx context.Context, parentID, email string) (*core.SentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients[parentID] {
		if r.Email == email && r.Status == core.RecipientSent {
			return &core.SentRecord{
				Subject: *r.SentSubject,
				Body:    *r.SentBody,
				From:    *r.SentFrom,
				At:      *r.SentAt,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: no sent original for %s", core.ErrNotFound, email)
}

// fakeTransport records sends and can fail or block on demand.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []mail.Message
	failOn map[string]error // by To address
	gate   chan struct{}    // when set, Send blocks until closed
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failOn: make(map[string]error)}
}

func (f *fakeTransport) Send(ctx context.Context, msg mail.Message) error {
	if f.gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.gate:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[msg.To]; ok {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) messages() []mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mail.Message(nil), f.sent...)
}

// sendingCampaign builds a one-account sending campaign with n pending
// recipients addressed r1@example.com .. rn@example.com.
func sendingCampaign(id string, n, hourlyLimit int) (*core.Campaign, []core.CampaignAccount, []*core.Recipient) {
	c := &core.Campaign{
		ID:       id,
		Name:     "camp-" + id,
		SendType: core.SendImmediate,
		Status:   core.StatusSending,
		Subjects: []string{"Hello"},
		BodyHTML: "<p>pitch</p>",
	}
	accounts := []core.CampaignAccount{{
		AccountID:   "acct-1",
		Address:     "sender@acme.io",
		Provider:    "gmail",
		HourlyLimit: hourlyLimit,
	}}
	var recs []*core.Recipient
	for i := 1; i <= n; i++ {
		recs = append(recs, &core.Recipient{
			ID:         fmt.Sprintf("%s-r%d", id, i),
			CampaignID: id,
			Email:      fmt.Sprintf("r%d@example.com", i),
			Status:     core.RecipientPending,
			AccountID:  "acct-1",
			Subject:    "Hello",
			BodyHTML:   "<p>pitch</p>",
		})
	}
	return c, accounts, recs
}
