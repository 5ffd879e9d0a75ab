package crawler

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestPartitionBoundsEdgeCases(t *testing.T) {
	if got := PartitionBounds(0, 4); got != nil {
		t.Errorf("no items must yield no ranges, got %v", got)
	}
	if got := PartitionBounds(5, 0); got != nil {
		t.Errorf("no workers must yield no ranges, got %v", got)
	}
	if got := PartitionBounds(2, 8); len(got) != 2 {
		t.Errorf("workers must clamp to item count, got %v", got)
	}
}

func TestProperty_PartitionCoversEveryItemExactlyOnce(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ranges are contiguous, non-overlapping and cover [0, n)", prop.ForAll(
		func(n int, workers int) bool {
			bounds := PartitionBounds(n, workers)

			if len(bounds) > workers {
				return false
			}

			next := 0
			for _, b := range bounds {
				if b[0] != next || b[1] <= b[0] {
					return false
				}
				next = b[1]
			}
			return next == n
		},
		gen.IntRange(1, 500),
		gen.IntRange(1, 16),
	))

	properties.Property("range sizes differ by at most one", prop.ForAll(
		func(n int, workers int) bool {
			bounds := PartitionBounds(n, workers)

			min, max := n, 0
			for _, b := range bounds {
				size := b[1] - b[0]
				if size < min {
					min = size
				}
				if size > max {
					max = size
				}
			}
			return max-min <= 1
		},
		gen.IntRange(1, 500),
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
