package memory

import (
	"testing"

	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/catalog/catalogtest"
)

func TestConformance(t *testing.T) {
	catalogtest.Run(t, func(t *testing.T) catalog.Catalog {
		return NewStore()
	})
}
