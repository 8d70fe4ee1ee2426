package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/identity"
	"fecsync/internal/finance/models"
	"fecsync/internal/finance/orchestrator"
	"fecsync/internal/finance/store"
	"fecsync/pkg/platform/sentinel"
	"fecsync/pkg/testutil"
)

type fakeSyncer struct {
	importReq  orchestrator.ImportRequest
	importRes  *orchestrator.ImportResult
	importErr  error
	syncRes    *orchestrator.CandidateResult
	batchIDs   []string
	batchTmpl  orchestrator.ImportRequest
	allStarted bool
}

func (f *fakeSyncer) Import(_ context.Context, req orchestrator.ImportRequest) (*orchestrator.ImportResult, error) {
	f.importReq = req
	return f.importRes, f.importErr
}

func (f *fakeSyncer) SyncCandidate(_ context.Context, req orchestrator.ImportRequest) (*orchestrator.CandidateResult, error) {
	f.importReq = req
	return f.syncRes, nil
}

func (f *fakeSyncer) StartBatch(ctx context.Context, registry *orchestrator.Registry, ids []string, tmpl orchestrator.ImportRequest) (*orchestrator.Run, error) {
	f.batchIDs = ids
	f.batchTmpl = tmpl
	return registry.Start(ctx, models.RunBatch), nil
}

func (f *fakeSyncer) StartAll(ctx context.Context, registry *orchestrator.Registry, _ orchestrator.ImportRequest) *orchestrator.Run {
	f.allStarted = true
	return registry.Start(ctx, models.RunAll)
}

type fakeIdentity struct {
	input     identity.Input
	confirmed string
	res       *identity.Resolution
}

func (f *fakeIdentity) Resolve(_ context.Context, in identity.Input) (*identity.Resolution, error) {
	f.input = in
	return f.res, nil
}

func (f *fakeIdentity) Confirm(_ context.Context, _ string, externalID string) (*identity.Resolution, error) {
	f.confirmed = externalID
	return &identity.Resolution{Found: true, Method: identity.MethodManual, ExternalID: externalID, Applied: true}, nil
}

type HandlerSuite struct {
	suite.Suite
	syncer   *fakeSyncer
	identity *fakeIdentity
	registry *orchestrator.Registry
	router   http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	candidates := store.NewMemory()
	s.Require().NoError(candidates.UpsertCandidate(context.Background(), models.Candidate{
		ID:          "cand-1",
		Name:        "Pat Example",
		State:       "IL",
		Office:      models.OfficeHouse,
		District:    "01",
		CrosswalkID: "E000001",
	}))

	s.syncer = &fakeSyncer{}
	s.identity = &fakeIdentity{res: &identity.Resolution{Found: true, Method: identity.MethodCrosswalk, ExternalID: "H0IL01001", Applied: true}}
	s.registry = orchestrator.NewRegistry(nil)

	h := New(s.syncer, s.identity, candidates, s.registry, slog.New(slog.DiscardHandler), 2024)
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = testutil.NewRequest(s.T(), method, path)
	} else {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestImportPassesPathAndLimits() {
	s.syncer.importRes = &orchestrator.ImportResult{
		Success:             true,
		Imported:            2,
		TotalRaised:         decimal.NewFromInt(850),
		CommitteesProcessed: 1,
		Message:             "Imported 2 donors ($850.00) from 1 committees",
		State:               orchestrator.StateComplete,
	}

	rr := s.do(http.MethodPost, "/v1/candidates/cand-1/import", map[string]any{
		"cycle":        2024,
		"maxPages":     5,
		"maxRuntimeMs": 20000,
		"committeeId":  "C00000001",
	})

	testutil.AssertStatusOK(s.T(), rr)
	s.Equal("cand-1", s.syncer.importReq.CandidateID)
	s.Equal(5, s.syncer.importReq.MaxPages)
	s.Equal(int64(20000), s.syncer.importReq.MaxRuntimeMs)
	s.Equal("C00000001", s.syncer.importReq.CommitteeID)

	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal(true, (*body)["success"])
	s.Equal(float64(2), (*body)["imported"])
	s.Equal("850", (*body)["totalRaised"])
	s.Equal(false, (*body)["hasMore"])
	s.Equal(float64(1), (*body)["committeesProcessed"])
	s.NotEmpty((*body)["message"])
}

func (s *HandlerSuite) TestImportErrorMapping() {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid request", fmt.Errorf("%w: candidate cand-1 has no external id", orchestrator.ErrInvalidRequest), http.StatusBadRequest, "bad_request"},
		{"unknown candidate", fmt.Errorf("load candidate: %w", sentinel.ErrNotFound), http.StatusNotFound, "not_found"},
		{"missing api key", &fec.Error{Category: fec.CategoryConfig, Op: "receipts", Message: "api key rejected"}, http.StatusServiceUnavailable, "unavailable"},
		{"donor write", fmt.Errorf("%w: %w", orchestrator.ErrPersistDonors, errors.New("disk full")), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.syncer.importErr = tt.err
			rr := s.do(http.MethodPost, "/v1/candidates/cand-1/import", nil)
			testutil.AssertStatusAndError(s.T(), rr, tt.status, tt.code)
		})
	}
}

func (s *HandlerSuite) TestImportRejectsBadBodies() {
	rr := s.do(http.MethodPost, "/v1/candidates/cand-1/import", map[string]any{"cycle": 2023})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = s.do(http.MethodPost, "/v1/candidates/cand-1/import", map[string]any{"surprise": true})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = s.do(http.MethodPost, "/v1/candidates/cand-1/import", map[string]any{"maxRuntimeMs": 10_000_000_000_000})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestIncludeOtherReceiptsOnlyWhenGiven() {
	s.syncer.syncRes = &orchestrator.CandidateResult{CandidateID: "cand-1", State: orchestrator.StateComplete}

	rr := s.do(http.MethodPost, "/v1/candidates/cand-1/sync", map[string]any{"cycle": 2024})
	testutil.AssertStatusOK(s.T(), rr)
	s.Nil(s.syncer.importReq.IncludeOtherReceipts)

	rr = s.do(http.MethodPost, "/v1/candidates/cand-1/sync", map[string]any{"includeOtherReceipts": false})
	testutil.AssertStatusOK(s.T(), rr)
	s.Require().NotNil(s.syncer.importReq.IncludeOtherReceipts)
	s.False(*s.syncer.importReq.IncludeOtherReceipts)
}

func (s *HandlerSuite) TestSync() {
	s.syncer.syncRes = &orchestrator.CandidateResult{CandidateID: "cand-1", Iterations: 3, State: orchestrator.StateComplete}

	rr := s.do(http.MethodPost, "/v1/candidates/cand-1/sync", nil)

	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "iterations", float64(3))
	s.Equal("cand-1", s.syncer.importReq.CandidateID)
}

func (s *HandlerSuite) TestResolveUsesStoredCandidate() {
	rr := s.do(http.MethodPost, "/v1/candidates/cand-1/resolve", nil)

	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "method", "crosswalk")
	s.Equal("E000001", s.identity.input.CrosswalkID)
	s.Equal("01", s.identity.input.District)
	s.Equal(2024, s.identity.input.Cycle)

	rr = s.do(http.MethodPost, "/v1/candidates/missing/resolve", nil)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *HandlerSuite) TestConfirm() {
	rr := s.do(http.MethodPost, "/v1/candidates/cand-1/confirm", map[string]string{"externalCandidateId": " h0il01001 "})
	testutil.AssertStatusOK(s.T(), rr)
	s.Equal("H0IL01001", s.identity.confirmed)

	rr = s.do(http.MethodPost, "/v1/candidates/cand-1/confirm", map[string]string{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestBatchStartsRun() {
	rr := s.do(http.MethodPost, "/v1/sync/batch", map[string]any{
		"candidateIds": []string{"cand-1", "cand-2"},
		"maxPages":     3,
	})

	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
	testutil.AssertJSONHasKey(s.T(), rr, "run_id")
	s.Equal([]string{"cand-1", "cand-2"}, s.syncer.batchIDs)
	s.Equal(3, s.syncer.batchTmpl.MaxPages)

	rr = s.do(http.MethodPost, "/v1/sync/batch", map[string]any{"candidateIds": []string{}})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestRunControlLifecycle() {
	rr := s.do(http.MethodPost, "/v1/sync/all", nil)
	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
	s.True(s.syncer.allStarted)
	runID := (*testutil.UnmarshalResponse[models.SyncProgress](s.T(), rr)).RunID

	rr = s.do(http.MethodPost, "/v1/sync/runs/"+runID+"/pause", nil)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "paused", true)

	rr = s.do(http.MethodPost, "/v1/sync/runs/"+runID+"/resume", nil)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "paused", false)

	rr = s.do(http.MethodPost, "/v1/sync/runs/"+runID+"/cancel", nil)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "cancelled", true)

	rr = s.do(http.MethodPost, "/v1/sync/runs/"+runID+"/pause", nil)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")

	rr = s.do(http.MethodGet, "/v1/sync/runs/"+runID, nil)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "run_id", runID)
}

func (s *HandlerSuite) TestUnknownRun() {
	rr := s.do(http.MethodGet, "/v1/sync/runs/nope", nil)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = s.do(http.MethodPost, "/v1/sync/runs/nope/cancel", nil)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}
