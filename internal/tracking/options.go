package tracking

import (
	"fmt"
	"time"

	"asset-tracker-api/internal/models"

	"github.com/rs/zerolog"
)

// RebindPolicy decides what happens when a tag already bound to one asset is
// bound to another.
type RebindPolicy string

const (
	// RebindReassign moves the tag, clearing the previous asset's binding.
	RebindReassign RebindPolicy = "reassign"
	// RebindReject refuses the binding with ErrConflict.
	RebindReject RebindPolicy = "reject"
)

// ParseRebindPolicy validates a configured policy name
func ParseRebindPolicy(s string) (RebindPolicy, error) {
	switch RebindPolicy(s) {
	case RebindReassign, RebindReject:
		return RebindPolicy(s), nil
	case "":
		return RebindReassign, nil
	}
	return "", fmt.Errorf("unknown tag rebind policy %q", s)
}

// Observer receives ingestion and ledger events, typically for metrics
type Observer interface {
	ReadProcessed(status ReadStatus)
	MovementRecorded(kind models.MovementKind)
	BatchCompleted(size int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ReadProcessed(ReadStatus) {}
func (nopObserver) MovementRecorded(models.MovementKind) {}
func (nopObserver) BatchCompleted(int, time.Duration) {}

// Options tunes the tracking components. Zero values select defaults.
type Options struct {
	Logger   *zerolog.Logger
	Observer Observer
	// Now overrides the clock, mainly in tests.
	Now func() time.Time

	RebindPolicy RebindPolicy
	// MaxAttempts bounds optimistic-concurrency retries per operation.
	MaxAttempts int

	IngestWorkers int
	IngestTimeout time.Duration
	MaxBatch      int

	RecentMovements       int
	ReadsDefaultLimit     int
	ReadsMaxLimit         int
	MovementsDefaultLimit int
}

const (
	defaultMaxAttempts     = 5
	defaultIngestWorkers   = 4
	defaultIngestTimeout   = 30 * time.Second
	defaultMaxBatch        = 5000
	defaultRecentMovements = 5
	defaultReadsLimit      = 100
	defaultReadsMaxLimit   = 1000
	defaultMovementsLimit  = 100
)

// deps is shared by every component built from one Options value
type deps struct {
	store Store
	log   zerolog.Logger
	obs   Observer
	now   func() time.Time
	opts  Options
}

func newDeps(store Store, opts Options) *deps {
	d := &deps{store: store, obs: opts.Observer, now: opts.Now}
	if opts.Logger != nil {
		d.log = *opts.Logger
	} else {
		d.log = zerolog.Nop()
	}
	if d.obs == nil {
		d.obs = nopObserver{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if opts.RebindPolicy == "" {
		opts.RebindPolicy = RebindReassign
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.IngestWorkers <= 0 {
		opts.IngestWorkers = defaultIngestWorkers
	}
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = defaultIngestTimeout
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}
	if opts.RecentMovements <= 0 {
		opts.RecentMovements = defaultRecentMovements
	}
	if opts.ReadsDefaultLimit <= 0 {
		opts.ReadsDefaultLimit = defaultReadsLimit
	}
	if opts.ReadsMaxLimit <= 0 {
		opts.ReadsMaxLimit = defaultReadsMaxLimit
	}
	if opts.MovementsDefaultLimit <= 0 {
		opts.MovementsDefaultLimit = defaultMovementsLimit
	}
	d.opts = opts
	return d
}

// clock returns the current time truncated to microseconds in UTC, the
// precision every backend can round-trip
func (d *deps) clock() time.Time {
	return d.now().UTC().Truncate(time.Microsecond)
}
