package app

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fecsync/internal/finance/models"
	"fecsync/internal/platform/config"
	"fecsync/pkg/testutil"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.FEC.APIKey = "DEMO_KEY"
	cfg.Server.AdminToken = "secret"
	cfg.Crosswalk.SnapshotPath = filepath.Join(t.TempDir(), "crosswalk.db")

	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler), Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewWithoutBackends(t *testing.T) {
	a := newTestApp(t)
	router := a.Router()

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRoutesAreWired(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Store.UpsertCandidate(context.Background(), models.Candidate{
		ID:    "cand-1",
		Name:  "Jane Doe",
		State: "CA",
	}))
	router := a.Router()

	req := testutil.NewRequest(t, http.MethodGet, "/v1/sync/runs/missing")
	testutil.WithAdminToken(req, "secret")
	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusNotFound)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/v1/candidates/cand-1/confirm", map[string]string{
		"externalCandidateId": "",
	})
	testutil.WithAdminToken(req, "secret")
	rr = testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}
