package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fecsync/internal/finance/models"
	"fecsync/pkg/platform/sentinel"
)

// storeUnderTest is the surface both adapters share.
type storeUnderTest interface {
	UpsertCandidate(ctx context.Context, c models.Candidate) error
	GetCandidate(ctx context.Context, id string) (*models.Candidate, error)
	ListCandidates(ctx context.Context) ([]models.Candidate, error)
	SetExternalID(ctx context.Context, id, externalID string) error
	SetPrimaryCommittee(ctx context.Context, id, committeeID string) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
	UpsertCommittee(ctx context.Context, c models.Committee) error
	ListCommittees(ctx context.Context, candidateID string) ([]models.Committee, error)
	GetCursor(ctx context.Context, candidateID, committeeID string) (*models.Cursor, error)
	SaveCursor(ctx context.Context, candidateID, committeeID string, cursor *models.Cursor, mark models.SyncMark) error
	ListPending(ctx context.Context) ([]string, error)
	ListDonors(ctx context.Context, candidateID string, cycle int, committeeIDs []string) ([]models.Donor, error)
	ReplaceDonors(ctx context.Context, candidateID string, cycle int, donors []models.Donor) error
}

type StoreContractSuite struct {
	suite.Suite
	newStore func() storeUnderTest
	store    storeUnderTest
	ctx      context.Context
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
	s.Require().NoError(s.store.UpsertCandidate(s.ctx, models.Candidate{
		ID: "cand-1", Name: "Jane Smith", State: "IL", Office: models.OfficeHouse, District: "07",
	}))
	s.Require().NoError(s.store.UpsertCandidate(s.ctx, models.Candidate{
		ID: "cand-2", Name: "Bob Jones", State: "TX", Office: models.OfficeSenate,
	}))
}

func (s *StoreContractSuite) TestCandidates() {
	s.Run("get missing returns not found", func() {
		_, err := s.store.GetCandidate(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("external id and primary committee are written", func() {
		s.Require().NoError(s.store.SetExternalID(s.ctx, "cand-1", "H0IL07123"))
		s.Require().NoError(s.store.SetPrimaryCommittee(s.ctx, "cand-1", "C00111111"))
		c, err := s.store.GetCandidate(s.ctx, "cand-1")
		s.Require().NoError(err)
		s.Equal("H0IL07123", c.ExternalID)
		s.Equal("C00111111", c.PrimaryCommitteeID)
		s.True(c.NeverSynced())
	})

	s.Run("mark synced", func() {
		at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
		s.Require().NoError(s.store.MarkSynced(s.ctx, "cand-2", at))
		c, err := s.store.GetCandidate(s.ctx, "cand-2")
		s.Require().NoError(err)
		s.Require().NotNil(c.LastFinanceSyncAt)
		s.True(at.Equal(*c.LastFinanceSyncAt))
	})

	s.Run("update of missing candidate returns not found", func() {
		s.ErrorIs(s.store.SetExternalID(s.ctx, "nope", "X"), sentinel.ErrNotFound)
	})

	s.Run("list is ordered by id", func() {
		list, err := s.store.ListCandidates(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal("cand-1", list[0].ID)
		s.Equal("cand-2", list[1].ID)
	})
}

func (s *StoreContractSuite) TestCommittees() {
	s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
		CandidateID: "cand-1", CommitteeID: "C2", Role: models.RolePrincipal, Active: true,
	}))
	s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
		CandidateID: "cand-1", CommitteeID: "C1", Name: "Leadership PAC", Role: models.RoleManual, Active: true,
	}))

	s.Run("insertion order is kept", func() {
		list, err := s.store.ListCommittees(s.ctx, "cand-1")
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal("C2", list[0].CommitteeID)
		s.Equal("C1", list[1].CommitteeID)
	})

	s.Run("upsert refreshes name and never downgrades to stored", func() {
		s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
			CandidateID: "cand-1", CommitteeID: "C2", Name: "Smith for Congress", Role: models.RoleStored, Active: true,
		}))
		list, err := s.store.ListCommittees(s.ctx, "cand-1")
		s.Require().NoError(err)
		s.Equal("Smith for Congress", list[0].Name)
		s.Equal(models.RolePrincipal, list[0].Role)
	})

	s.Run("blank name keeps stored name", func() {
		s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
			CandidateID: "cand-1", CommitteeID: "C1", Role: models.RoleManual, Active: true,
		}))
		list, err := s.store.ListCommittees(s.ctx, "cand-1")
		s.Require().NoError(err)
		s.Equal("Leadership PAC", list[1].Name)
	})
}

func (s *StoreContractSuite) TestCursors() {
	s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
		CandidateID: "cand-1", CommitteeID: "C1", Role: models.RolePrincipal, Active: true,
	}))
	started := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	s.Run("no cursor initially", func() {
		cur, err := s.store.GetCursor(s.ctx, "cand-1", "C1")
		s.Require().NoError(err)
		s.Nil(cur)
	})

	s.Run("saved cursor is returned verbatim and marks pending", func() {
		cur := &models.Cursor{LastIndex: "230019", LastDate: "2024-02-11", Cycle: 2024}
		s.Require().NoError(s.store.SaveCursor(s.ctx, "cand-1", "C1", cur, models.SyncMark{StartedAt: &started}))

		got, err := s.store.GetCursor(s.ctx, "cand-1", "C1")
		s.Require().NoError(err)
		s.Equal(cur, got)

		pending, err := s.store.ListPending(s.ctx)
		s.Require().NoError(err)
		s.Equal([]string{"cand-1"}, pending)
	})

	s.Run("upsert does not touch the cursor", func() {
		s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
			CandidateID: "cand-1", CommitteeID: "C1", Name: "Renamed", Role: models.RolePrincipal, Active: true,
		}))
		got, err := s.store.GetCursor(s.ctx, "cand-1", "C1")
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal("230019", got.LastIndex)
	})

	s.Run("inactive committee does not make its candidate pending", func() {
		s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
			CandidateID: "cand-1", CommitteeID: "C1", Role: models.RolePrincipal, Active: false,
		}))
		pending, err := s.store.ListPending(s.ctx)
		s.Require().NoError(err)
		s.Empty(pending)

		s.Require().NoError(s.store.UpsertCommittee(s.ctx, models.Committee{
			CandidateID: "cand-1", CommitteeID: "C1", Role: models.RolePrincipal, Active: true,
		}))
		pending, err = s.store.ListPending(s.ctx)
		s.Require().NoError(err)
		s.Equal([]string{"cand-1"}, pending)
	})

	s.Run("nil cursor clears it and keeps start time", func() {
		completed := started.Add(time.Hour)
		s.Require().NoError(s.store.SaveCursor(s.ctx, "cand-1", "C1", nil, models.SyncMark{CompletedAt: &completed}))

		got, err := s.store.GetCursor(s.ctx, "cand-1", "C1")
		s.Require().NoError(err)
		s.Nil(got)

		list, err := s.store.ListCommittees(s.ctx, "cand-1")
		s.Require().NoError(err)
		s.Require().NotNil(list[0].SyncStartedAt)
		s.Require().NotNil(list[0].SyncCompletedAt)
		s.True(started.Equal(*list[0].SyncStartedAt))
		s.True(completed.Equal(*list[0].SyncCompletedAt))

		pending, err := s.store.ListPending(s.ctx)
		s.Require().NoError(err)
		s.Empty(pending)
	})

	s.Run("unknown committee returns not found", func() {
		err := s.store.SaveCursor(s.ctx, "cand-1", "C404", nil, models.SyncMark{})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreContractSuite) TestDonors() {
	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	donor := func(key, committee, amount string) models.Donor {
		return models.Donor{
			IdentityKey: key, CandidateID: "cand-1", Name: "Donor " + key, EntityType: "IND",
			TotalAmount: decimal.RequireFromString(amount), TransactionCount: 1,
			FirstReceiptDate: &first, LastReceiptDate: &first,
			CommitteeID: committee, Cycle: 2024, ReceiptType: models.ReceiptContribution,
		}
	}

	s.Require().NoError(s.store.ReplaceDonors(s.ctx, "cand-1", 2024, []models.Donor{
		donor("a", "C1", "100.50"), donor("b", "C2", "25"),
	}))
	s.Require().NoError(s.store.ReplaceDonors(s.ctx, "cand-1", 2022, []models.Donor{donor("old", "C1", "5")}))

	s.Run("list by candidate and cycle", func() {
		got, err := s.store.ListDonors(s.ctx, "cand-1", 2024, nil)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.True(decimal.RequireFromString("100.50").Equal(got[0].TotalAmount))
	})

	s.Run("list filtered by committee", func() {
		got, err := s.store.ListDonors(s.ctx, "cand-1", 2024, []string{"C2"})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal("b", got[0].IdentityKey)
	})

	s.Run("replace swaps the whole cycle and leaves other cycles alone", func() {
		s.Require().NoError(s.store.ReplaceDonors(s.ctx, "cand-1", 2024, []models.Donor{donor("c", "C1", "7")}))
		got, err := s.store.ListDonors(s.ctx, "cand-1", 2024, nil)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal("c", got[0].IdentityKey)

		old, err := s.store.ListDonors(s.ctx, "cand-1", 2022, nil)
		s.Require().NoError(err)
		s.Len(old, 1)
	})

	s.Run("replace with the same set is idempotent", func() {
		set := []models.Donor{donor("c", "C1", "7")}
		s.Require().NoError(s.store.ReplaceDonors(s.ctx, "cand-1", 2024, set))
		s.Require().NoError(s.store.ReplaceDonors(s.ctx, "cand-1", 2024, set))
		got, err := s.store.ListDonors(s.ctx, "cand-1", 2024, nil)
		s.Require().NoError(err)
		s.Len(got, 1)
		s.True(decimal.NewFromInt(7).Equal(got[0].TotalAmount))
	})
}
