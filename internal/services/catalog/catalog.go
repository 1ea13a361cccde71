package catalog

import (
	"errors"
	"strings"

	"github.com/dannykan/bbbeep/backend/internal/config"
)

var ErrUnknownProduct = errors.New("unknown product")

// Catalog is the static product table mapping a store product id to the
// number of points it grants. Read-only once built.
type Catalog struct {
	points map[string]int
}

func New(products []config.ProductConfig) *Catalog {
	points := make(map[string]int, len(products))
	for _, p := range products {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" || p.Points <= 0 {
			continue
		}
		points[id] = p.Points
	}
	return &Catalog{points: points}
}

func (c *Catalog) Points(productID string) (int, error) {
	points, ok := c.points[strings.ToLower(strings.TrimSpace(productID))]
	if !ok {
		return 0, ErrUnknownProduct
	}
	return points, nil
}

func (c *Catalog) Size() int {
	return len(c.points)
}
