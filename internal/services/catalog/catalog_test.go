package catalog

import (
	"errors"
	"testing"

	"github.com/dannykan/bbbeep/backend/internal/config"
)

func TestPointsLookup(t *testing.T) {
	c := New([]config.ProductConfig{
		{ID: "points_40", Points: 40},
		{ID: "Points_100", Points: 100},
	})

	points, err := c.Points("points_40")
	if err != nil {
		t.Fatalf("lookup points_40: %v", err)
	}
	if points != 40 {
		t.Fatalf("unexpected points: %d", points)
	}

	// lookups are case-insensitive both ways
	points, err = c.Points("POINTS_100")
	if err != nil {
		t.Fatalf("lookup POINTS_100: %v", err)
	}
	if points != 100 {
		t.Fatalf("unexpected points: %d", points)
	}
}

func TestUnknownProduct(t *testing.T) {
	c := New([]config.ProductConfig{{ID: "points_40", Points: 40}})

	if _, err := c.Points("points_9000"); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestSkipsInvalidEntries(t *testing.T) {
	c := New([]config.ProductConfig{
		{ID: "", Points: 40},
		{ID: "points_0", Points: 0},
		{ID: "points_40", Points: 40},
	})

	if c.Size() != 1 {
		t.Fatalf("unexpected catalog size: %d", c.Size())
	}
}
