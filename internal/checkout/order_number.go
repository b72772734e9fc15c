package checkout

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const orderNumberLayout = "20060102150405"

// NumberGenerator produces ORD-<yyyyMMddHHmmss>-<suffix> order numbers. The
// suffix is the entropy part of a monotonic ULID, so numbers generated by one
// process in the same millisecond still differ. Uniqueness across processes
// is enforced by the order store.
type NumberGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *NumberGenerator) Next(at time.Time) (string, error) {
	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(at), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	// The first 10 characters encode the timestamp, which is already spelled out.
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format(orderNumberLayout), id.String()[10:]), nil
}
