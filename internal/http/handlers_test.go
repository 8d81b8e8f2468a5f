package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/core"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/db"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/locks"
)

// stubLauncher records launches without running a dispatcher.
type stubLauncher struct {
	mu  sync.Mutex
	ids []string
}

func (l *stubLauncher) Launch(campaignID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, campaignID)
	return true
}

func (l *stubLauncher) launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func newTestServer(t *testing.T) (*Server, http.Handler, *stubLauncher) {
	t.Helper()
	d := db.StartTestPostgres(t)
	store := &core.Store{DB: d.Pool}
	// zero TTL so every read rescans; tests assert on fresh state
	tracker := locks.New(store, slog.Default(), locks.WithCacheTTL(0))
	launcher := &stubLauncher{}
	s := NewServer(store, tracker, launcher)
	return s, s.Router(), launcher
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func createAccount(t *testing.T, h http.Handler, address, provider string) core.SenderAccount {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/accounts", map[string]string{
		"address": address, "provider": provider,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[core.SenderAccount](t, rr)
}

func TestAccountEndpoints(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/accounts", map[string]string{"address": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	acct := createAccount(t, h, "dana@acme.io", "gmail")
	require.NotEmpty(t, acct.ID)
	require.Equal(t, "gmail", acct.Provider)

	rr = doJSON(t, h, http.MethodGet, "/accounts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Accounts []core.SenderAccount `json:"accounts"`
	}](t, rr)
	require.Len(t, list.Accounts, 1)

	rr = doJSON(t, h, http.MethodGet, "/accounts/locked", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	locked := decode[struct {
		IDs []string `json:"locked_account_ids"`
	}](t, rr)
	require.Empty(t, locked.IDs)
}

func TestCampaignEndpoints(t *testing.T) {
	_, h, launcher := newTestServer(t)
	acct := createAccount(t, h, "dana@acme.io", "gmail")

	t.Run("validation failures are 400", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/campaigns", map[string]any{
			"name": "bad", "send_type": "immediate",
			"subjects": []string{"Hi"}, "bodies": []string{"<p>b</p>"},
			"recipients":  []string{"not-an-email"},
			"account_ids": []string{acct.ID},
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)

		rr = doJSON(t, h, http.MethodPost, "/campaigns", map[string]any{
			"name": "bad", "send_type": "broadcast",
			"subjects": []string{"Hi"}, "bodies": []string{"<p>b</p>"},
			"recipients":  []string{"a@example.com"},
			"account_ids": []string{acct.ID},
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	var campaignID string
	t.Run("immediate create launches dispatch", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/campaigns", map[string]any{
			"name": "spring launch", "send_type": "immediate",
			"subjects": []string{"Hi"}, "bodies": []string{"<p>b</p>"},
			"recipients":  []string{"a@example.com", "b@example.com"},
			"account_ids": []string{acct.ID},
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		camp := decode[core.Campaign](t, rr)
		require.Equal(t, core.StatusSending, camp.Status)
		require.Equal(t, []string{camp.ID}, launcher.launched())
		campaignID = camp.ID
	})

	t.Run("busy account rejects a second immediate send", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/campaigns", map[string]any{
			"name": "second wave", "send_type": "immediate",
			"subjects": []string{"Hi"}, "bodies": []string{"<p>b</p>"},
			"recipients":  []string{"c@example.com"},
			"account_ids": []string{acct.ID},
		})
		require.Equal(t, http.StatusConflict, rr.Code)

		out := decode[map[string]string](t, rr)
		require.Equal(t, acct.ID, out["account_id"])
	})

	t.Run("locked accounts reports the busy sender", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/accounts/locked", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		locked := decode[struct {
			IDs []string `json:"locked_account_ids"`
		}](t, rr)
		require.Equal(t, []string{acct.ID}, locked.IDs)
	})

	t.Run("get campaign includes recipient stats", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/campaigns/"+campaignID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		out := decode[struct {
			Campaign core.Campaign  `json:"campaign"`
			Stats    map[string]int `json:"stats"`
		}](t, rr)
		require.Equal(t, "spring launch", out.Campaign.Name)
		require.Equal(t, 2, out.Stats["total"])
		require.Equal(t, 2, out.Stats["pending"])
	})

	t.Run("progress reports per account state", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/campaigns/"+campaignID+"/progress", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		out := decode[struct {
			Accounts []core.AccountProgress `json:"accounts"`
		}](t, rr)
		require.Len(t, out.Accounts, 1)
		require.Equal(t, 2, out.Accounts[0].Processing)

		rr = doJSON(t, h, http.MethodGet, "/campaigns/00000000-0000-0000-0000-000000000000/progress", nil)
		require.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("stop is accepted once", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/campaigns/"+campaignID+"/stop", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSON(t, h, http.MethodPost, "/campaigns/"+campaignID+"/stop", nil)
		require.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("list returns the campaign", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/campaigns", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		out := decode[struct {
			Campaigns []core.Campaign `json:"campaigns"`
		}](t, rr)
		require.Len(t, out.Campaigns, 1)
	})
}

func TestScheduledCampaignConflictIs409(t *testing.T) {
	_, h, launcher := newTestServer(t)
	acct := createAccount(t, h, "dana@acme.io", "gmail")

	at := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	rr := doJSON(t, h, http.MethodPost, "/campaigns", map[string]any{
		"name": "morning", "send_type": "scheduled", "scheduled_at": at,
		"subjects": []string{"Hi"}, "bodies": []string{"<p>b</p>"},
		"recipients":  []string{"a@example.com"},
		"account_ids": []string{acct.ID},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Empty(t, launcher.launched(), "scheduled campaigns wait for the supervisor")

	rr = doJSON(t, h, http.MethodPost, "/campaigns", map[string]any{
		"name": "noon", "send_type": "scheduled", "scheduled_at": at,
		"subjects": []string{"Hi"}, "bodies": []string{"<p>b</p>"},
		"recipients":  []string{"b@example.com"},
		"account_ids": []string{acct.ID},
	})
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestFollowupFlow(t *testing.T) {
	s, h, launcher := newTestServer(t)
	ctx := context.Background()
	acct := createAccount(t, h, "dana@acme.io", "gmail")

	rr := doJSON(t, h, http.MethodPost, "/campaigns", map[string]any{
		"name": "parent", "send_type": "immediate",
		"subjects": []string{"Hi"}, "bodies": []string{"<p>b</p>"},
		"recipients":  []string{"a@example.com", "b@example.com"},
		"account_ids": []string{acct.ID},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	parent := decode[core.Campaign](t, rr)

	// follow-up before anything was delivered
	rr = doJSON(t, h, http.MethodPost, "/campaigns/"+parent.ID+"/followups", map[string]any{
		"name": "too early", "subjects": []string{"Re: Hi"}, "bodies": []string{"<p>bump</p>"},
	})
	require.Equal(t, http.StatusConflict, rr.Code)

	// settle the parent as the dispatcher would
	pending, err := s.Store.PendingRecipients(ctx, parent.ID)
	require.NoError(t, err)
	for _, r := range pending {
		require.NoError(t, s.Store.MarkRecipientSent(ctx, r.ID, core.SentRecord{
			Subject: r.Subject, Body: "<p>b</p>", From: acct.Address, At: time.Now(),
		}))
	}
	ok, err := s.Store.TransitionCampaign(ctx, parent.ID, core.StatusSending, core.StatusCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	rr = doJSON(t, h, http.MethodPost, "/campaigns/"+parent.ID+"/followups", map[string]any{
		"name": "bump", "subjects": []string{"Re: Hi"}, "bodies": []string{"<p>bump</p>"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	fu := decode[core.Campaign](t, rr)
	require.Equal(t, core.StatusDraft, fu.Status)
	require.Equal(t, core.SendFollowup, fu.SendType)

	// drafts are launched explicitly
	rr = doJSON(t, h, http.MethodPost, "/campaigns/"+fu.ID+"/send", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Contains(t, launcher.launched(), fu.ID)

	// a second send finds it no longer in draft
	rr = doJSON(t, h, http.MethodPost, "/campaigns/"+fu.ID+"/send", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
}
