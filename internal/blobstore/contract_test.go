package blobstore_test

import (
	"testing"

	"github.com/imagestore/imagestore/internal/blobstore"
	"github.com/imagestore/imagestore/internal/blobstore/blobstoretest"
)

func TestMemoryStore_Contract(t *testing.T) {
	blobstoretest.RunContract(t, func(t *testing.T) blobstore.Store {
		return blobstore.NewMemoryStore()
	})
}

func TestFaulty_WithoutFaultsPassesThrough(t *testing.T) {
	blobstoretest.RunContract(t, func(t *testing.T) blobstore.Store {
		return blobstoretest.Faulty(blobstore.NewMemoryStore())
	})
}
