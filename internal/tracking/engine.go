package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asset-tracker-api/internal/models"

	"golang.org/x/sync/errgroup"
)

// ReadStatus is the outcome of one read within a batch
type ReadStatus string

const (
	ReadOK      ReadStatus = "ok"
	ReadFailed  ReadStatus = "failed"
	ReadPending ReadStatus = "pending"
)

// ReadResult reports what happened to the read at Index
type ReadResult struct {
	Index       int        `json:"index"`
	Status      ReadStatus `json:"status"`
	UID         string     `json:"uid,omitempty"`
	ReadEventID int64      `json:"read_event_id,omitempty"`
	TagID       int64      `json:"tag_id,omitempty"`
	AssetID     *int64     `json:"asset_id,omitempty"`
	MovementID  *int64     `json:"movement_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	Kind        string     `json:"kind,omitempty"`
}

// BatchResult accumulates per-read outcomes in input order
type BatchResult struct {
	Results   []ReadResult `json:"results"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Pending   int          `json:"pending"`
}

// Err returns ErrPartialBatch when any read failed or was left pending
func (b *BatchResult) Err() error {
	if b.Failed == 0 && b.Pending == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d reads not applied: %w", b.Failed+b.Pending, len(b.Results), ErrPartialBatch)
}

// Engine reconciles portal read batches into tags, read events, asset state
// and ledger entries
type Engine struct {
	d      *deps
	tags   *TagRegistry
	assets *AssetDirectory
}

// Ingest processes reads from portal. Reads are independent: each one runs in
// its own transaction covering the tag upsert, the read event, and the asset
// update with its ledger entry when the tag is bound. A bad read is recorded
// in the result and does not stop its siblings. Reads still unprocessed when
// the ingest timeout expires are reported as pending.
//
// The returned error is only set when the batch as a whole is rejected.
func (e *Engine) Ingest(ctx context.Context, portal models.Portal, reads []RawRead) (*BatchResult, error) {
	if portal.ID <= 0 {
		return nil, invalidf("batch without portal")
	}
	if len(reads) > e.d.opts.MaxBatch {
		return nil, invalidf("batch of %d reads exceeds limit of %d", len(reads), e.d.opts.MaxBatch)
	}

	start := time.Now()
	ingestAt := e.d.clock()
	ctx, cancel := context.WithTimeout(ctx, e.d.opts.IngestTimeout)
	defer cancel()

	results := make([]ReadResult, len(reads))
	for i := range reads {
		results[i] = ReadResult{Index: i, UID: reads[i].UID, Status: ReadPending}
	}

	var g errgroup.Group
	g.SetLimit(e.d.opts.IngestWorkers)
	for i := range reads {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = e.ingestOne(ctx, portal, i, reads[i], ingestAt)
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{Results: results}
	for i := range results {
		switch results[i].Status {
		case ReadOK:
			batch.Processed++
		case ReadFailed:
			batch.Failed++
		case ReadPending:
			if results[i].Error == "" {
				results[i].Error = "ingestion timed out before this read was processed"
			}
			batch.Pending++
		}
		e.d.obs.ReadProcessed(results[i].Status)
	}

	e.touchPortal(ctx, portal)
	e.d.obs.BatchCompleted(len(reads), time.Since(start))
	e.d.log.Info().
		Str("portal", portal.Name).
		Int("reads", len(reads)).
		Int("processed", batch.Processed).
		Int("failed", batch.Failed).
		Int("pending", batch.Pending).
		Dur("elapsed", time.Since(start)).
		Msg("batch ingested")
	return batch, nil
}

func (e *Engine) ingestOne(ctx context.Context, portal models.Portal, idx int, raw RawRead, ingestAt time.Time) ReadResult {
	res := ReadResult{Index: idx, UID: raw.UID}

	observedAt, err := validateRead(raw, ingestAt)
	if err != nil {
		return e.failed(res, err)
	}

	var movement *models.MovementEvent
	err = e.d.inTx(ctx, "ingest.read", func(r Repos) error {
		movement = nil
		tag, err := e.tags.observe(ctx, r, raw.UID, observedAt, raw.Metadata)
		if err != nil {
			return err
		}

		ev := models.ReadEvent{
			UID:        tag.UID,
			TagID:      tag.ID,
			PortalID:   portal.ID,
			ObservedAt: observedAt,
			RSSI:       raw.RSSI,
			Antenna:    raw.Antenna,
			Metadata:   raw.Metadata,
			CreatedAt:  e.d.clock(),
		}
		if err := r.Reads.Append(ctx, &ev); err != nil {
			return err
		}
		res.UID, res.TagID, res.ReadEventID = tag.UID, tag.ID, ev.ID
		res.AssetID, res.MovementID = nil, nil

		asset, err := r.Assets.GetByTagID(ctx, tag.ID)
		if KindOf(err) == KindNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		_, mv, err := e.assets.ApplyPortalSighting(ctx, r, asset, portal, observedAt, raw.Metadata)
		if err != nil {
			return err
		}
		res.AssetID, res.MovementID = &mv.AssetID, &mv.ID
		movement = &mv
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			res.Status = ReadPending
			res.Error = "ingestion timed out before this read was committed"
			res.ReadEventID, res.TagID, res.AssetID, res.MovementID = 0, 0, nil, nil
			return res
		}
		res.ReadEventID, res.TagID, res.AssetID, res.MovementID = 0, 0, nil, nil
		return e.failed(res, err)
	}

	if movement != nil {
		e.d.obs.MovementRecorded(movement.Kind)
	}
	res.Status = ReadOK
	e.d.log.Debug().
		Int("index", idx).
		Str("uid", res.UID).
		Int64("read_event_id", res.ReadEventID).
		Bool("asset_moved", movement != nil).
		Msg("read applied")
	return res
}

func (e *Engine) failed(res ReadResult, err error) ReadResult {
	res.Status = ReadFailed
	res.Error = err.Error()
	res.Kind = KindOf(err)
	if res.Kind == KindInternal {
		e.d.log.Error().Err(err).Int("index", res.Index).Str("uid", res.UID).Msg("read failed")
	} else {
		e.d.log.Debug().Err(err).Int("index", res.Index).Str("uid", res.UID).Msg("read rejected")
	}
	return res
}

// touchPortal stamps the portal's last contact once per batch. It runs even
// when the batch timed out.
func (e *Engine) touchPortal(ctx context.Context, portal models.Portal) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.d.store.Repos().Portals.Touch(ctx, portal.ID, e.d.clock()); err != nil {
		e.d.log.Error().Err(err).Int64("portal_id", portal.ID).Msg("failed to update portal last contact")
	}
}

// validateRead checks the tag identifier and resolves the timestamp,
// defaulting it to the ingestion time
func validateRead(raw RawRead, ingestAt time.Time) (time.Time, error) {
	if raw.Problem != "" {
		return time.Time{}, invalidf("%s", raw.Problem)
	}
	if raw.UID == "" {
		return time.Time{}, invalidf("uid is required")
	}
	if raw.Timestamp == "" {
		return ingestAt, nil
	}
	return ParseTimestamp(raw.Timestamp)
}
