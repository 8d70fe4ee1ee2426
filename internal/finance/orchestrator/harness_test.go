package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fecsync/internal/finance/committee"
	"fecsync/internal/finance/events"
	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/fetcher"
	"fecsync/internal/finance/identity"
	"fecsync/internal/finance/models"
	"fecsync/internal/finance/store"
	"fecsync/internal/ratelimit/budget"
)

const (
	testCycle    = 2024
	testPageSize = 2
)

// fakeSource serves receipt pages per committee, keyed by the cursor index
// that requests them.
type fakeSource struct {
	mu     sync.Mutex
	pages  map[string]map[string]*fec.ReceiptPage
	errs   map[string][]error
	calls  map[string]int
	onCall func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[string]map[string]*fec.ReceiptPage),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (s *fakeSource) Receipts(_ context.Context, q fec.ReceiptQuery) (*fec.ReceiptPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[q.CommitteeID]++
	if s.onCall != nil {
		s.onCall()
	}
	if errs := s.errs[q.CommitteeID]; len(errs) > 0 {
		s.errs[q.CommitteeID] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	key := ""
	if q.After != nil {
		key = q.After.LastIndex
	}
	page, ok := s.pages[q.CommitteeID][key]
	if !ok {
		return nil, &fec.Error{Category: fec.CategoryBadData, Op: "receipts", Message: "unknown cursor " + key}
	}
	return page, nil
}

func (s *fakeSource) serve(committeeID string, txns []models.Transaction, pageSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[committeeID] = paginate(committeeID, txns, pageSize)
}

func (s *fakeSource) failWith(committeeID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[committeeID] = errs
}

func (s *fakeSource) callsFor(committeeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[committeeID]
}

// paginate splits txns into linked pages of size. A trailing empty page
// follows when the last page is full.
func paginate(committeeID string, txns []models.Transaction, size int) map[string]*fec.ReceiptPage {
	pages := make(map[string]*fec.ReceiptPage)
	prev := ""
	for i := 0; ; i++ {
		lo := i * size
		if lo > len(txns) {
			break
		}
		hi := min(lo+size, len(txns))
		next := fmt.Sprintf("%s-%d", committeeID, i+1)
		pages[prev] = &fec.ReceiptPage{
			Transactions: txns[lo:hi],
			Next:         &models.Cursor{LastIndex: next, LastDate: "2024-03-01", Cycle: testCycle},
		}
		prev = next
		if hi-lo < size {
			break
		}
	}
	return pages
}

func receipt(committeeID, name, entity, city, state, zip string, amount int64, day int) models.Transaction {
	return models.Transaction{
		ContributorName: name,
		EntityType:      entity,
		City:            city,
		State:           state,
		Zip:             zip,
		Amount:          decimal.NewFromInt(amount),
		ReceiptDate:     time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		LineCode:        "SA11AI",
		ReceiptType:     models.ReceiptContribution,
		CommitteeID:     committeeID,
		Cycle:           testCycle,
	}
}

// donations returns n receipts from three repeating individuals.
func donations(committeeID string, n int) []models.Transaction {
	out := make([]models.Transaction, 0, n)
	for i := range n {
		out = append(out, receipt(committeeID, fmt.Sprintf("Donor %d", i%3), "IND", "Peoria", "IL", "61602", int64(10*(i+1)), 1+i%28))
	}
	return out
}

// fakeDiscoverer persists the configured committees the way discovery does
// and returns the stored set.
type fakeDiscoverer struct {
	store      *store.MemoryStore
	committees map[string][]string
	errs       map[string]error
}

func (d *fakeDiscoverer) Discover(ctx context.Context, req committee.Request) (*committee.Discovery, error) {
	if err := d.errs[req.CandidateID]; err != nil {
		return nil, err
	}
	for _, id := range d.committees[req.CandidateID] {
		if err := d.store.UpsertCommittee(ctx, models.Committee{
			CandidateID: req.CandidateID,
			CommitteeID: id,
			Role:        models.RolePrincipal,
			Active:      true,
		}); err != nil {
			return nil, err
		}
	}
	list, err := d.store.ListCommittees(ctx, req.CandidateID)
	if err != nil {
		return nil, err
	}
	return &committee.Discovery{Committees: list}, nil
}

type fakeResolver struct {
	store       *store.MemoryStore
	resolutions map[string]*identity.Resolution
}

func (r *fakeResolver) Resolve(ctx context.Context, in identity.Input) (*identity.Resolution, error) {
	res, ok := r.resolutions[in.CandidateID]
	if !ok {
		return &identity.Resolution{Method: identity.MethodNone, Message: "no match"}, nil
	}
	if res.Applied {
		if err := r.store.SetExternalID(ctx, in.CandidateID, res.ExternalID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// failingDonorStore fails donor replacement.
type failingDonorStore struct {
	*store.MemoryStore
}

func (failingDonorStore) ReplaceDonors(context.Context, string, int, []models.Donor) error {
	return fmt.Errorf("connection reset")
}

type harness struct {
	ctx        context.Context
	store      *store.MemoryStore
	source     *fakeSource
	discoverer *fakeDiscoverer
	resolver   *fakeResolver
	sink       *events.MemorySink
	clock      *testClock
	limits     Limits
	pageSize   int
	logger     *slog.Logger
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHarness() *harness {
	mem := store.NewMemory()
	h := &harness{
		ctx:    context.Background(),
		store:  mem,
		source: newFakeSource(),
		discoverer: &fakeDiscoverer{
			store:      mem,
			committees: make(map[string][]string),
			errs:       make(map[string]error),
		},
		resolver: &fakeResolver{store: mem, resolutions: make(map[string]*identity.Resolution)},
		sink:     events.NewMemorySink(),
		clock:    &testClock{now: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)},
		pageSize: testPageSize,
	}
	h.limits = DefaultLimits(testCycle)
	h.limits.RateLimitPerMinute = 1000
	h.limits.IterationDelay = 0
	h.limits.CandidateDelay = 0
	return h
}

func (h *harness) candidate(id, name, externalID string, committees ...string) {
	if err := h.store.UpsertCandidate(h.ctx, models.Candidate{ID: id, Name: name, State: "IL", Office: models.OfficeHouse, ExternalID: externalID}); err != nil {
		panic(err)
	}
	h.discoverer.committees[id] = committees
}

func (h *harness) serve(committeeID string, txns []models.Transaction) {
	h.source.serve(committeeID, txns, h.pageSize)
}

func (h *harness) orchestrator(s Store) *Orchestrator {
	noSleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	logger := h.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := fetcher.New(h.source, budget.New(nil, budget.WithClock(h.clock.Now)),
		fetcher.WithPageSize(h.pageSize),
		fetcher.WithClock(h.clock.Now),
		fetcher.WithSleep(noSleep),
		fetcher.WithRetryPolicy(fetcher.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, Attempts: 2}),
		fetcher.WithLogger(logger),
	)
	if s == nil {
		s = h.store
	}
	return New(s, h.discoverer, f,
		WithResolver(h.resolver),
		WithPublisher(events.NewPublisher(h.sink)),
		WithLimits(h.limits),
		WithClock(h.clock.Now),
		WithSleep(noSleep),
		WithLogger(logger),
	)
}

// donorTotals projects stored donors to name -> "amount/count".
func (h *harness) donorTotals(candidateID string) map[string]string {
	donors, err := h.store.ListDonors(h.ctx, candidateID, testCycle, nil)
	if err != nil {
		panic(err)
	}
	out := make(map[string]string, len(donors))
	for _, d := range donors {
		out[d.CommitteeID+"/"+d.Name] = fmt.Sprintf("%s/%d", d.TotalAmount.StringFixed(2), d.TransactionCount)
	}
	return out
}

// transactionCount sums the receipts folded into the stored donors.
func (h *harness) transactionCount(candidateID string) int {
	donors, err := h.store.ListDonors(h.ctx, candidateID, testCycle, nil)
	if err != nil {
		panic(err)
	}
	n := 0
	for _, d := range donors {
		n += d.TransactionCount
	}
	return n
}
