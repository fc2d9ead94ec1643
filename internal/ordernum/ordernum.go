// Package ordernum generates human readable order numbers of the form
// ORD-YYYY-MM-DD-HH-MM-SS-<microseconds>-<4 digit random>.
package ordernum

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	Prefix       = "ORD"
	suffixRange  = 10000
	layout       = "2006-01-02-15-04-05"
	numberLength = len("ORD-2006-01-02-15-04-05-000000-0000")
)

var pattern = regexp.MustCompile(`^ORD-(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})-(\d{6})-(\d{4})$`)

var ErrInvalidFormat = errors.New("invalid order number format")

// Generator issues order numbers. It is safe for concurrent use.
type Generator interface {
	Next() string
}

// TimeGenerator stamps numbers with the wall clock. Within one process the
// stamped microsecond is strictly increasing, so two callers never share a
// timestamp; the random suffix separates numbers minted by different
// processes in the same microsecond.
type TimeGenerator struct {
	now    func() time.Time
	suffix func() (int, error)
	last   atomic.Int64 // unix microseconds of the last issued number
}

type Option func(*TimeGenerator)

func WithClock(now func() time.Time) Option {
	return func(g *TimeGenerator) { g.now = now }
}

func WithSuffixSource(fn func() (int, error)) Option {
	return func(g *TimeGenerator) { g.suffix = fn }
}

func NewGenerator(opts ...Option) *TimeGenerator {
	g := &TimeGenerator{
		now:    time.Now,
		suffix: randomSuffix,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *TimeGenerator) Next() string {
	micros := g.reserveMicros(g.now().UTC().UnixMicro())

	suffix, err := g.suffix()
	if err != nil {
		// timestamps alone are still unique in-process
		suffix = int(micros % suffixRange)
	}

	return Format(time.UnixMicro(micros).UTC(), suffix)
}

func (g *TimeGenerator) reserveMicros(candidate int64) int64 {
	for {
		last := g.last.Load()
		next := candidate
		if next <= last {
			next = last + 1
		}
		if g.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Format renders an order number for the given instant and suffix.
func Format(t time.Time, suffix int) string {
	return fmt.Sprintf("%s-%s-%06d-%04d", Prefix, t.Format(layout), t.Nanosecond()/1000, suffix%suffixRange)
}

// Parse validates an order number and returns its embedded timestamp and suffix.
func Parse(number string) (time.Time, int, error) {
	if len(number) != numberLength {
		return time.Time{}, 0, ErrInvalidFormat
	}
	m := pattern.FindStringSubmatch(number)
	if m == nil {
		return time.Time{}, 0, ErrInvalidFormat
	}

	t, err := time.Parse(layout, m[1])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	micros, _ := strconv.Atoi(m[2])
	suffix, _ := strconv.Atoi(m[3])

	return t.Add(time.Duration(micros) * time.Microsecond), suffix, nil
}

func randomSuffix() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(suffixRange))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
