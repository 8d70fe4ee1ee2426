package store

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func() storeUnderTest { return NewMemory() }})
}
