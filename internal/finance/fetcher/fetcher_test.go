package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/models"
)

const testCycle = 2024

type fakeSource struct {
	pages   map[string]*fec.ReceiptPage
	errs    []error
	queries []fec.ReceiptQuery
}

func (s *fakeSource) Receipts(_ context.Context, q fec.ReceiptQuery) (*fec.ReceiptPage, error) {
	s.queries = append(s.queries, q)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	key := ""
	if q.After != nil {
		key = q.After.LastIndex
	}
	page, ok := s.pages[key]
	if !ok {
		return nil, &fec.Error{Category: fec.CategoryBadData, Op: "receipts", Message: "unknown cursor " + key}
	}
	return page, nil
}

// chain builds linked pages of the given sizes, keyed by the cursor that
// requests them.
func chain(committeeID string, sizes ...int) map[string]*fec.ReceiptPage {
	pages := make(map[string]*fec.ReceiptPage, len(sizes))
	prev := ""
	for i, n := range sizes {
		page := &fec.ReceiptPage{
			Next: &models.Cursor{
				LastIndex: fmt.Sprintf("idx-%d", i+1),
				LastDate:  fmt.Sprintf("2024-03-%02d", 28-i),
				Cycle:     testCycle,
			},
		}
		for j := range n {
			page.Transactions = append(page.Transactions, models.Transaction{
				ContributorName: fmt.Sprintf("DONOR %d-%d", i, j),
				Amount:          decimal.NewFromInt(10),
				LineCode:        "SA11AI",
				ReceiptType:     models.ReceiptContribution,
				CommitteeID:     committeeID,
				Cycle:           testCycle,
			})
		}
		pages[prev] = page
		prev = page.Next.LastIndex
	}
	return pages
}

type fakeLimiter struct {
	calls int
	wait  time.Duration
}

func (l *fakeLimiter) Wait(_ context.Context, _ string, _ int, onWait func(time.Duration)) error {
	l.calls++
	if l.wait > 0 && onWait != nil {
		onWait(l.wait)
	}
	return nil
}

type fakeTimer struct {
	c     chan time.Time
	waits []time.Duration
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Time{}
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time {
	return t.c
}

type gateFunc func(ctx context.Context) error

func (g gateFunc) Checkpoint(ctx context.Context) error {
	return g(ctx)
}

type recordingObserver struct {
	pages       []int
	rateWaits   []time.Duration
	retryErrors []error
}

func (o *recordingObserver) FetchingPage(_ string, page int) {
	o.pages = append(o.pages, page)
}

func (o *recordingObserver) WaitingForRateLimit(_ string, wait time.Duration) {
	o.rateWaits = append(o.rateWaits, wait)
}

func (o *recordingObserver) Retrying(_ string, _ int, _ time.Duration, err error) {
	o.retryErrors = append(o.retryErrors, err)
}

func throttled() error {
	return &fec.Error{Category: fec.CategoryThrottled, Op: "receipts", StatusCode: 429, Message: "slow down"}
}

type FetcherSuite struct {
	suite.Suite
	ctx      context.Context
	source   *fakeSource
	limiter  *fakeLimiter
	timer    *fakeTimer
	sleeps   []time.Duration
	now      time.Time
	observer *recordingObserver
	fetcher  *Fetcher
}

func TestFetcherSuite(t *testing.T) {
	suite.Run(t, new(FetcherSuite))
}

func (s *FetcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.source = &fakeSource{}
	s.limiter = &fakeLimiter{}
	s.timer = newFakeTimer()
	s.sleeps = nil
	s.now = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	s.observer = &recordingObserver{}
	s.fetcher = New(s.source, s.limiter,
		WithPageSize(3),
		WithClock(func() time.Time { return s.now }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			s.sleeps = append(s.sleeps, d)
			return nil
		}),
	)
	s.fetcher.timer = s.timer
}

func (s *FetcherSuite) job() Job {
	return Job{
		CandidateID: "cand-1",
		CommitteeID: "C100",
		Cycle:       testCycle,
		MaxPages:    20,
		RateLimit:   60,
		Observer:    s.observer,
	}
}

func (s *FetcherSuite) collect(job Job) (*Outcome, []models.Transaction, error) {
	var got []models.Transaction
	out, err := s.fetcher.FetchCommittee(s.ctx, job, func(page []models.Transaction) error {
		got = append(got, page...)
		return nil
	})
	return out, got, err
}

func (s *FetcherSuite) TestCompletesOnShortPage() {
	s.source.pages = chain("C100", 3, 3, 1)

	out, got, err := s.collect(s.job())
	s.Require().NoError(err)
	s.True(out.Complete)
	s.Equal(StopComplete, out.StopReason)
	s.Nil(out.Cursor, "a completed committee clears its cursor")
	s.Equal(3, out.Pages)
	s.Equal(7, out.Seen)
	s.Len(got, 7)
	s.Equal([]int{1, 2, 3}, s.observer.pages)
	s.Equal([]time.Duration{DefaultPageDelay, DefaultPageDelay}, s.sleeps)
	s.Equal(3, s.limiter.calls)

	s.Nil(s.source.queries[0].After)
	s.Equal("idx-1", s.source.queries[1].After.LastIndex)
	s.Equal("2024-03-28", s.source.queries[1].After.LastDate)
}

func (s *FetcherSuite) TestResumesFromStoredCursor() {
	s.source.pages = chain("C100", 3, 3, 2)
	job := s.job()
	job.Cursor = &models.Cursor{LastIndex: "idx-2", LastDate: "2024-03-27", Cycle: testCycle}

	out, got, err := s.collect(job)
	s.Require().NoError(err)
	s.Equal(1, out.Pages)
	s.Len(got, 2)
	s.Equal("idx-2", s.source.queries[0].After.LastIndex)
}

func (s *FetcherSuite) TestIgnoresCursorFromAnotherCycle() {
	s.source.pages = chain("C100", 1)
	job := s.job()
	job.Cursor = &models.Cursor{LastIndex: "idx-9", Cycle: 2022}

	out, _, err := s.collect(job)
	s.Require().NoError(err)
	s.True(out.Complete)
	s.Nil(s.source.queries[0].After)
}

func (s *FetcherSuite) TestStopsAtMaxPagesKeepingCursor() {
	s.source.pages = chain("C100", 3, 3, 3, 1)
	job := s.job()
	job.MaxPages = 2

	out, _, err := s.collect(job)
	s.Require().NoError(err)
	s.False(out.Complete)
	s.Equal(StopMaxPages, out.StopReason)
	s.Equal(2, out.Pages)
	s.Equal("idx-2", out.Cursor.LastIndex)
}

func (s *FetcherSuite) TestSplitInvocationsSeeEveryRecordOnce() {
	pages := chain("C100", 3, 3, 3, 2)

	s.source.pages = pages
	_, all, err := s.collect(s.job())
	s.Require().NoError(err)

	s.SetupTest()
	s.source.pages = pages
	var resumed []models.Transaction
	job := s.job()
	job.MaxPages = 1
	for range 10 {
		out, got, err := s.collect(job)
		s.Require().NoError(err)
		resumed = append(resumed, got...)
		if out.Complete {
			break
		}
		job.Cursor = out.Cursor
	}
	s.Equal(all, resumed)
}

func (s *FetcherSuite) TestDeadlineStopsBeforeNextPage() {
	s.source.pages = chain("C100", 3, 3)
	job := s.job()
	job.Cursor = &models.Cursor{LastIndex: "idx-1", Cycle: testCycle}
	job.Deadline = s.now

	out, _, err := s.collect(job)
	s.Require().NoError(err)
	s.Equal(StopDeadline, out.StopReason)
	s.Zero(out.Pages)
	s.Equal("idx-1", out.Cursor.LastIndex)
	s.Empty(s.source.queries)
}

func (s *FetcherSuite) TestRetriesThrottledPage() {
	s.source.pages = chain("C100", 2)
	s.source.errs = []error{throttled(), throttled()}

	out, got, err := s.collect(s.job())
	s.Require().NoError(err)
	s.True(out.Complete)
	s.Len(got, 2)
	s.Equal([]time.Duration{2 * time.Second, 4 * time.Second}, s.timer.waits)
	s.Len(s.observer.retryErrors, 2)
	s.Equal(3, s.limiter.calls, "every attempt consumes budget")
}

func (s *FetcherSuite) TestAbandonsPageAfterFiveAttempts() {
	s.source.pages = chain("C100", 3, 3)
	s.source.errs = []error{nil, throttled(), throttled(), throttled(), throttled(), throttled()}

	out, got, err := s.collect(s.job())
	s.Require().NoError(err)
	s.Equal(StopAbandoned, out.StopReason)
	s.True(fec.IsCategory(out.LastErr, fec.CategoryThrottled))
	s.Equal(1, out.Pages)
	s.Len(got, 3, "records from earlier pages are kept")
	s.Equal("idx-1", out.Cursor.LastIndex)
	s.Len(s.source.queries, 6)
	s.Equal([]time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, s.timer.waits)
}

func (s *FetcherSuite) TestTransientErrorsAreRetried() {
	s.source.pages = chain("C100", 1)
	s.source.errs = []error{&fec.Error{Category: fec.CategoryTransient, Op: "receipts", StatusCode: 503, Message: "unavailable"}}

	out, _, err := s.collect(s.job())
	s.Require().NoError(err)
	s.True(out.Complete)
	s.Len(s.source.queries, 2)
}

func (s *FetcherSuite) TestConfigErrorIsFatal() {
	s.source.errs = []error{&fec.Error{Category: fec.CategoryConfig, Op: "receipts", StatusCode: 403, Message: "bad key"}}

	_, _, err := s.collect(s.job())
	s.True(fec.IsCategory(err, fec.CategoryConfig))
	s.Len(s.source.queries, 1)
	s.Empty(s.timer.waits)
}

func (s *FetcherSuite) TestBadDataAbandonsWithoutRetry() {
	s.source.errs = []error{&fec.Error{Category: fec.CategoryBadData, Op: "receipts", Message: "no results"}}

	out, _, err := s.collect(s.job())
	s.Require().NoError(err)
	s.Equal(StopAbandoned, out.StopReason)
	s.Len(s.source.queries, 1)
}

func (s *FetcherSuite) TestStopRequestKeepsCursor() {
	s.source.pages = chain("C100", 3, 3, 1)
	checks := 0
	job := s.job()
	job.Gate = gateFunc(func(context.Context) error {
		checks++
		if checks > 1 {
			return errors.New("cancelled")
		}
		return nil
	})

	out, _, err := s.collect(job)
	s.Require().NoError(err)
	s.Equal(StopStopped, out.StopReason)
	s.Equal(1, out.Pages)
	s.Equal("idx-1", out.Cursor.LastIndex)
}

func (s *FetcherSuite) TestCancelledContextIsReturned() {
	s.source.pages = chain("C100", 3, 1)
	ctx, cancel := context.WithCancel(s.ctx)
	job := s.job()
	job.Gate = gateFunc(func(context.Context) error {
		cancel()
		return context.Canceled
	})

	_, err := s.fetcher.FetchCommittee(ctx, job, nil)
	s.ErrorIs(err, context.Canceled)
}

func (s *FetcherSuite) TestReportsRateLimitWaits() {
	s.source.pages = chain("C100", 1)
	s.limiter.wait = 30 * time.Second

	_, _, err := s.collect(s.job())
	s.Require().NoError(err)
	s.Equal([]time.Duration{30 * time.Second}, s.observer.rateWaits)
}

func (s *FetcherSuite) TestSinkErrorStopsFetch() {
	s.source.pages = chain("C100", 3, 1)
	boom := errors.New("boom")

	_, err := s.fetcher.FetchCommittee(s.ctx, s.job(), func([]models.Transaction) error { return boom })
	s.ErrorIs(err, boom)
}

func (s *FetcherSuite) TestRejectsInvalidJobs() {
	job := s.job()
	job.RateLimit = 0
	_, err := s.fetcher.FetchCommittee(s.ctx, job, nil)
	s.Error(err)

	job = s.job()
	job.CommitteeID = ""
	_, err = s.fetcher.FetchCommittee(s.ctx, job, nil)
	s.Error(err)
}

func TestKeepFiltersOtherReceipts(t *testing.T) {
	txns := []models.Transaction{
		{LineCode: "SA11AI", ReceiptType: models.ClassifyLineCode("SA11AI")},
		{LineCode: "SA12", ReceiptType: models.ClassifyLineCode("SA12")},
		{LineCode: "SA15", ReceiptType: models.ClassifyLineCode("SA15")},
	}

	assert.Len(t, keep(txns, false), 2)
	assert.Len(t, keep(txns, true), 3)
}

func TestRetryPolicyDelays(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, p.Delays())
	assert.Equal(t, 30*time.Second, p.MaxWait())

	capped := RetryPolicy{Initial: 2 * time.Second, Max: 5 * time.Second, Attempts: 5}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, capped.Delays())

	for _, d := range (RetryPolicy{Attempts: 10}).Delays() {
		assert.LessOrEqual(t, d, 20*time.Second)
	}
}
