package tracking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/store/memory"
	"asset-tracker-api/internal/tracking"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a settable time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type recordingObserver struct {
	mu        sync.Mutex
	reads     map[tracking.ReadStatus]int
	movements map[models.MovementKind]int
	batches   []int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		reads:     map[tracking.ReadStatus]int{},
		movements: map[models.MovementKind]int{},
	}
}

func (o *recordingObserver) ReadProcessed(s tracking.ReadStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reads[s]++
}

func (o *recordingObserver) MovementRecorded(k models.MovementKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.movements[k]++
}

func (o *recordingObserver) BatchCompleted(size int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, size)
}

type fixture struct {
	svc   *tracking.Service
	store tracking.Store
	clock *fakeClock
	obs   *recordingObserver
}

func newFixture(t *testing.T, opts tracking.Options) *fixture {
	t.Helper()
	return newFixtureOn(t, memory.New(), opts)
}

func newFixtureOn(t *testing.T, store tracking.Store, opts tracking.Options) *fixture {
	t.Helper()
	f := &fixture{store: store, clock: newFakeClock(), obs: newRecordingObserver()}
	if opts.Now == nil {
		opts.Now = f.clock.Now
	}
	if opts.Observer == nil {
		opts.Observer = f.obs
	}
	f.svc = tracking.New(store, opts)
	return f
}

func (f *fixture) portal(t *testing.T, name, location string) models.Portal {
	t.Helper()
	p, _, err := f.svc.Portals.Register(context.Background(), name, location)
	require.NoError(t, err)
	return p
}

func (f *fixture) asset(t *testing.T, serial string) models.Asset {
	t.Helper()
	a, err := f.svc.Assets.Create(context.Background(), tracking.NewAsset{Serial: serial})
	require.NoError(t, err)
	return a
}

func (f *fixture) boundAsset(t *testing.T, serial, uid string) models.Asset {
	t.Helper()
	a := f.asset(t, serial)
	a, _, err := f.svc.Assets.BindTag(context.Background(), a.ID, uid)
	require.NoError(t, err)
	return a
}

func (f *fixture) ingest(t *testing.T, portal models.Portal, reads ...tracking.RawRead) *tracking.BatchResult {
	t.Helper()
	res, err := f.svc.Engine.Ingest(context.Background(), portal, reads)
	require.NoError(t, err)
	return res
}

func read(uid string, ts time.Time) tracking.RawRead {
	return tracking.RawRead{UID: uid, Timestamp: ts.Format(time.RFC3339Nano)}
}

func ptr[T any](v T) *T { return &v }
