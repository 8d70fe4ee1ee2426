//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"fecsync/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, Migrate(context.Background(), pg.DB))
	require.NoError(t, Migrate(context.Background(), pg.DB), "schema is idempotent")

	suite.Run(t, &StoreContractSuite{newStore: func() storeUnderTest {
		_, err := pg.DB.Exec(`TRUNCATE donors, committees, candidates`)
		require.NoError(t, err)
		return NewPostgres(pg.DB)
	}})
}
