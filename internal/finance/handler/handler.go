// Package handler exposes the sync pipeline over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/identity"
	"fecsync/internal/finance/models"
	"fecsync/internal/finance/orchestrator"
	dErrors "fecsync/pkg/domain-errors"
	"fecsync/pkg/platform/httputil"
	"fecsync/pkg/platform/sentinel"
	"fecsync/pkg/requestcontext"
)

// Syncer runs import passes and multi-candidate runs.
type Syncer interface {
	Import(ctx context.Context, req orchestrator.ImportRequest) (*orchestrator.ImportResult, error)
	SyncCandidate(ctx context.Context, req orchestrator.ImportRequest) (*orchestrator.CandidateResult, error)
	StartBatch(ctx context.Context, registry *orchestrator.Registry, candidateIDs []string, tmpl orchestrator.ImportRequest) (*orchestrator.Run, error)
	StartAll(ctx context.Context, registry *orchestrator.Registry, tmpl orchestrator.ImportRequest) *orchestrator.Run
}

// Identity resolves and confirms candidate identities.
type Identity interface {
	Resolve(ctx context.Context, in identity.Input) (*identity.Resolution, error)
	Confirm(ctx context.Context, candidateID, externalID string) (*identity.Resolution, error)
}

// Candidates reads local candidates.
type Candidates interface {
	GetCandidate(ctx context.Context, id string) (*models.Candidate, error)
}

// Handler wires the sync endpoints to the pipeline.
type Handler struct {
	syncer     Syncer
	identity   Identity
	candidates Candidates
	registry   *orchestrator.Registry
	logger     *slog.Logger
	cycle      int
}

// New constructs a handler. cycle is used by resolve requests that name none.
func New(syncer Syncer, ident Identity, candidates Candidates, registry *orchestrator.Registry, logger *slog.Logger, cycle int) *Handler {
	return &Handler{
		syncer:     syncer,
		identity:   ident,
		candidates: candidates,
		registry:   registry,
		logger:     logger,
		cycle:      cycle,
	}
}

// Register mounts the sync endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/candidates/{candidateID}", func(r chi.Router) {
		r.Post("/resolve", h.HandleResolve)
		r.Post("/confirm", h.HandleConfirm)
		r.Post("/import", h.HandleImport)
		r.Post("/sync", h.HandleSync)
	})
	r.Route("/v1/sync", func(r chi.Router) {
		r.Post("/batch", h.HandleBatch)
		r.Post("/all", h.HandleAll)
		r.Get("/runs/{runID}", h.HandleGetRun)
		r.Post("/runs/{runID}/pause", h.HandlePause)
		r.Post("/runs/{runID}/resume", h.HandleResume)
		r.Post("/runs/{runID}/cancel", h.HandleCancel)
	})
}

// HandleResolve handles POST /v1/candidates/{candidateID}/resolve.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID := chi.URLParam(r, "candidateID")

	req, err := httputil.DecodeJSON[ResolveRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	candidate, err := h.candidates.GetCandidate(ctx, candidateID)
	if err != nil {
		h.fail(ctx, w, "load candidate failed", err)
		return
	}
	cycle := req.Cycle
	if cycle == 0 {
		cycle = h.cycle
	}

	res, err := h.identity.Resolve(ctx, identity.InputFor(*candidate, cycle))
	if err != nil {
		h.fail(ctx, w, "identity resolution failed", err)
		return
	}
	h.logger.InfoContext(ctx, "identity resolved",
		"request_id", requestcontext.RequestID(ctx),
		"candidate_id", candidateID,
		"method", res.Method,
		"applied", res.Applied,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleConfirm handles POST /v1/candidates/{candidateID}/confirm.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID := chi.URLParam(r, "candidateID")

	req, err := httputil.DecodeJSON[ConfirmRequest](r)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.candidates.GetCandidate(ctx, candidateID); err != nil {
		h.fail(ctx, w, "load candidate failed", err)
		return
	}

	res, err := h.identity.Confirm(ctx, candidateID, req.ExternalCandidateID)
	if err != nil {
		h.fail(ctx, w, "identity confirmation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleImport handles POST /v1/candidates/{candidateID}/import: one
// bounded import pass.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := h.decodeImport(w, r)
	if !ok {
		return
	}

	res, err := h.syncer.Import(ctx, req)
	if err != nil {
		h.fail(ctx, w, "import failed", err)
		return
	}
	h.logger.InfoContext(ctx, "import served",
		"request_id", requestcontext.RequestID(ctx),
		"candidate_id", req.CandidateID,
		"state", res.State,
		"imported", res.Imported,
		"has_more", res.HasMore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleSync handles POST /v1/candidates/{candidateID}/sync: passes repeat
// until the candidate is complete or the iteration cap is hit.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.decodeImport(w, r)
	if !ok {
		return
	}

	res, err := h.syncer.SyncCandidate(ctx, req)
	if err != nil {
		h.fail(ctx, w, "candidate sync failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) decodeImport(w http.ResponseWriter, r *http.Request) (orchestrator.ImportRequest, bool) {
	body, err := httputil.DecodeJSON[ImportRequest](r)
	if err == nil {
		err = body.Validate()
	}
	if err != nil {
		httputil.WriteError(w, err)
		return orchestrator.ImportRequest{}, false
	}
	return body.request(chi.URLParam(r, "candidateID")), true
}

// HandleBatch handles POST /v1/sync/batch. The run continues after the
// response; poll it through /v1/sync/runs/{runID}.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[BatchRequest](r)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	run, err := h.syncer.StartBatch(ctx, h.registry, req.CandidateIDs, req.template())
	if err != nil {
		h.fail(ctx, w, "batch start failed", err)
		return
	}
	h.logger.InfoContext(ctx, "batch sync started",
		"request_id", requestcontext.RequestID(ctx),
		"run_id", run.ID,
		"candidates", len(req.CandidateIDs),
	)
	httputil.WriteJSON(w, http.StatusAccepted, run.Progress())
}

// HandleAll handles POST /v1/sync/all.
func (h *Handler) HandleAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[Options](r)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	run := h.syncer.StartAll(ctx, h.registry, req.template())
	h.logger.InfoContext(ctx, "sync-all started",
		"request_id", requestcontext.RequestID(ctx),
		"run_id", run.ID,
	)
	httputil.WriteJSON(w, http.StatusAccepted, run.Progress())
}

// HandleGetRun handles GET /v1/sync/runs/{runID}.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Progress(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.fail(r.Context(), w, "load run failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "pause", h.registry.Pause)
}

func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "resume", h.registry.Resume)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "cancel", h.registry.Cancel)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) (*models.SyncProgress, error)) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runID")
	p, err := fn(ctx, runID)
	if err != nil {
		h.fail(ctx, w, "run "+action+" failed", err)
		return
	}
	h.logger.InfoContext(ctx, "run control applied",
		"request_id", requestcontext.RequestID(ctx),
		"run_id", runID,
		"action", action,
	)
	httputil.WriteJSON(w, http.StatusOK, p)
}

// fail logs err and writes its coded form.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	coded := translate(err)
	attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
	if dErrors.CodeOf(coded) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, coded)
}

// translate maps pipeline errors to coded errors for the transport.
func translate(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return dErrors.Wrap(err, dErrors.CodeBadRequest, strings.TrimPrefix(err.Error(), orchestrator.ErrInvalidRequest.Error()+": "))
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, err.Error())
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, err.Error())
	case fec.IsCategory(err, fec.CategoryConfig):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, fec.Describe(err))
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
	}
}
