// Package fabric composes the clock, journal, and router into the event
// fabric's public surface.
//
// Emit ordering is fixed: timestamp, identity, construction, durable
// append, then live routing. Durability strictly precedes visibility; a
// subscriber can never observe an event that would not survive a crash.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loomworks/weft/internal/clock"
	"github.com/loomworks/weft/internal/event"
	"github.com/loomworks/weft/internal/journal"
	"github.com/loomworks/weft/internal/router"
)

// Clock issues causally ordered timestamps for emitted events.
// *clock.Clock is the production implementation; tests inject scripted
// clocks for deterministic traces.
type Clock interface {
	Now() (clock.Timestamp, error)
	Observe(remote clock.Timestamp) (clock.Timestamp, error)
	Last() clock.Timestamp
	Node() string
}

// Draft is the caller-supplied portion of an event. The fabric assigns
// identity and timestamp during emit.
type Draft struct {
	Category  event.Category
	Payload   event.Payload
	ParentIDs []string
}

// Metrics is a point-in-time snapshot of fabric counters.
type Metrics struct {
	// TotalEvents is the number of events durably appended.
	TotalEvents uint64 `json:"total_events"`
	// LatestSeq is the highest assigned journal sequence.
	LatestSeq uint64 `json:"latest_seq"`
	// Subscriptions is the current live subscription count.
	Subscriptions int `json:"subscriptions"`
	// DroppedDeliveries counts live deliveries dropped on full channels.
	DroppedDeliveries uint64 `json:"dropped_deliveries"`
	// LastTimestamp is the most recently issued clock reading.
	LastTimestamp clock.Timestamp `json:"last_timestamp"`
}

// RecoverReport summarizes a recovery pass.
type RecoverReport struct {
	// Events is the number of events replayed and verified.
	Events int `json:"events"`
	// LatestSeq is the highest sequence found in the journal.
	LatestSeq uint64 `json:"latest_seq"`
	// LastTimestamp is the clock state after absorbing every recovered
	// event's timestamp.
	LastTimestamp clock.Timestamp `json:"last_timestamp"`
}

// Option configures a Fabric during construction.
type Option func(*Fabric)

// WithIDGenerator overrides the event ID source. Tests use FixedGenerator
// for predictable identities.
func WithIDGenerator(gen IDGenerator) Option {
	return func(f *Fabric) { f.ids = gen }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fabric) { f.logger = logger }
}

// Fabric is the orchestrator binding one clock, one journal, and one
// router. All methods are safe for concurrent use; ordering within Emit
// and EmitBatch is serialized by the journal's append path.
type Fabric struct {
	clock   Clock
	journal journal.Journal
	router  *router.Router
	ids     IDGenerator
	logger  *slog.Logger
}

// New assembles a fabric over the given components.
func New(clk Clock, jnl journal.Journal, rtr *router.Router, opts ...Option) *Fabric {
	f := &Fabric{
		clock:   clk,
		journal: jnl,
		router:  rtr,
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Emit creates, persists, and routes one event.
//
// The steps run in a fixed order: clock reading, identity assignment,
// construction (with integrity hash), durable append, live routing. Any
// failure before the append leaves no trace; routing failures are
// absorbed by the router's drop policy and never fail the emit.
func (f *Fabric) Emit(ctx context.Context, origin string, draft Draft) (event.Event, error) {
	ts, err := f.clock.Now()
	if err != nil {
		return event.Event{}, newError(ErrCodeDrift, "emit", err)
	}

	ev, err := event.New(f.ids.Generate(), ts, origin, draft.Category, draft.Payload, draft.ParentIDs)
	if err != nil {
		return event.Event{}, newError(ErrCodeSerialization, "emit", err)
	}

	data, err := ev.Marshal()
	if err != nil {
		return event.Event{}, &FabricError{Code: ErrCodeSerialization, Op: "emit", EventID: ev.ID, Err: err}
	}

	seq, err := f.journal.Append(ctx, data)
	if err != nil {
		return event.Event{}, &FabricError{Code: ErrCodeIO, Op: "emit", EventID: ev.ID, Err: err}
	}

	delivered := f.router.Route(ev)
	f.logger.Debug("event emitted",
		"event_id", ev.ID,
		"seq", seq,
		"origin", ev.Origin,
		"category", ev.Category,
		"delivered", delivered,
	)
	return ev, nil
}

// EmitBatch creates and persists multiple events as one durability unit.
//
// Every draft shares the batch's origin. Timestamps and identities are
// assigned per draft in order, so events within a batch remain causally
// ordered. The whole batch is appended in a single journal operation:
// after a crash either all of it is recoverable or none of it is. Routing
// happens after the append, in draft order.
func (f *Fabric) EmitBatch(ctx context.Context, origin string, drafts []Draft) ([]event.Event, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	events := make([]event.Event, 0, len(drafts))
	payloads := make([][]byte, 0, len(drafts))
	for i, draft := range drafts {
		ts, err := f.clock.Now()
		if err != nil {
			return nil, newError(ErrCodeDrift, "emit_batch", err)
		}
		ev, err := event.New(f.ids.Generate(), ts, origin, draft.Category, draft.Payload, draft.ParentIDs)
		if err != nil {
			return nil, newError(ErrCodeSerialization, "emit_batch", fmt.Errorf("draft %d: %w", i, err))
		}
		data, err := ev.Marshal()
		if err != nil {
			return nil, &FabricError{Code: ErrCodeSerialization, Op: "emit_batch", EventID: ev.ID, Err: err}
		}
		events = append(events, ev)
		payloads = append(payloads, data)
	}

	seqs, err := f.journal.AppendBatch(ctx, payloads)
	if err != nil {
		return nil, newError(ErrCodeIO, "emit_batch", err)
	}

	for _, ev := range events {
		f.router.Route(ev)
	}
	f.logger.Debug("batch emitted",
		"origin", origin,
		"count", len(events),
		"first_seq", seqs[0],
		"last_seq", seqs[len(seqs)-1],
	)
	return events, nil
}

// Observe merges an externally observed timestamp into the fabric's clock
// and returns a fresh local reading ordered after it.
func (f *Fabric) Observe(remote clock.Timestamp) (clock.Timestamp, error) {
	ts, err := f.clock.Observe(remote)
	if err != nil {
		return clock.Timestamp{}, newError(ErrCodeDrift, "observe", err)
	}
	return ts, nil
}

// Subscribe registers a live subscription with the router. Nil filters
// match everything; non-nil filters are AND-combined.
func (f *Fabric) Subscribe(categories []event.Category, origins []string) *router.Subscription {
	return f.router.Subscribe(categories, origins)
}

// Recover replays the journal from the beginning, verifies every event's
// integrity hash, and absorbs every recovered timestamp into the clock so
// new emissions order after everything already durable. fn, when non-nil,
// receives each verified event in sequence order; collaborators use it to
// rebuild in-memory projections after a restart.
//
// Recovery fails fast on the first corrupt entry: a decode failure maps
// to SERIALIZATION_FAILURE, a hash mismatch to INTEGRITY_VIOLATION, both
// carrying the offending sequence. Nothing is routed to subscribers
// during recovery; live delivery covers only post-recovery emissions.
func (f *Fabric) Recover(ctx context.Context, fn func(seq uint64, ev event.Event) error) (RecoverReport, error) {
	var report RecoverReport
	n, err := f.journal.Replay(ctx, 1, func(seq uint64, payload []byte) error {
		ev, err := event.Unmarshal(payload)
		if err != nil {
			return &FabricError{Code: ErrCodeSerialization, Op: "recover", Seq: seq, Err: err}
		}
		if !ev.Verify() {
			return &FabricError{
				Code:    ErrCodeIntegrity,
				Op:      "recover",
				EventID: ev.ID,
				Seq:     seq,
				Err:     errors.New("integrity hash mismatch"),
			}
		}
		if _, err := f.clock.Observe(ev.Timestamp); err != nil {
			return &FabricError{Code: ErrCodeDrift, Op: "recover", EventID: ev.ID, Seq: seq, Err: err}
		}
		if fn != nil {
			return fn(seq, ev)
		}
		return nil
	})
	if err != nil {
		var fe *FabricError
		if errors.As(err, &fe) {
			return report, err
		}
		return report, newError(ErrCodeIO, "recover", err)
	}

	report.Events = n
	report.LatestSeq = f.journal.LatestSeq()
	report.LastTimestamp = f.clock.Last()
	f.logger.Info("recovery complete",
		"events", report.Events,
		"latest_seq", report.LatestSeq,
		"last_timestamp", report.LastTimestamp.String(),
	)
	return report, nil
}

// Replay invokes fn for every stored event with seq >= fromSeq, in
// sequence order, decoding each entry. Integrity hashes are not checked
// here; use Verify or Recover for that.
func (f *Fabric) Replay(ctx context.Context, fromSeq uint64, fn func(seq uint64, ev event.Event) error) (int, error) {
	n, err := f.journal.Replay(ctx, fromSeq, func(seq uint64, payload []byte) error {
		ev, err := event.Unmarshal(payload)
		if err != nil {
			return &FabricError{Code: ErrCodeSerialization, Op: "replay", Seq: seq, Err: err}
		}
		return fn(seq, ev)
	})
	if err != nil {
		var fe *FabricError
		if errors.As(err, &fe) {
			return n, err
		}
		return n, newError(ErrCodeIO, "replay", err)
	}
	return n, nil
}

// Verify runs both integrity layers over the whole journal: the storage
// checksum of every entry, then the integrity hash of every decoded
// event. Mismatches from both layers are merged into one report and never
// repaired.
func (f *Fabric) Verify(ctx context.Context) (journal.VerifyReport, error) {
	report, err := f.journal.VerifyIntegrity(ctx)
	if err != nil {
		return journal.VerifyReport{}, newError(ErrCodeIO, "verify", err)
	}

	flagged := make(map[uint64]bool, len(report.MismatchedSeqs))
	for _, seq := range report.MismatchedSeqs {
		flagged[seq] = true
	}

	_, err = f.journal.Replay(ctx, 1, func(seq uint64, payload []byte) error {
		if flagged[seq] {
			return nil
		}
		ev, err := event.Unmarshal(payload)
		if err != nil || !ev.Verify() {
			flagged[seq] = true
			report.Verified--
			report.Mismatched++
			report.MismatchedSeqs = append(report.MismatchedSeqs, seq)
		}
		return nil
	})
	if err != nil {
		return journal.VerifyReport{}, newError(ErrCodeIO, "verify", err)
	}

	if report.Mismatched > 0 {
		f.logger.Warn("verification found mismatches",
			"total", report.Total,
			"mismatched", report.Mismatched,
			"seqs", report.MismatchedSeqs,
		)
	}
	return report, nil
}

// Checkpoint forces pending writes to stable storage and returns the
// highest durable sequence.
func (f *Fabric) Checkpoint(ctx context.Context) (uint64, error) {
	seq, err := f.journal.Checkpoint(ctx)
	if err != nil {
		return 0, newError(ErrCodeIO, "checkpoint", err)
	}
	f.logger.Debug("checkpoint complete", "durable_seq", seq)
	return seq, nil
}

// Metrics returns a point-in-time snapshot of fabric counters.
func (f *Fabric) Metrics() Metrics {
	latest := f.journal.LatestSeq()
	return Metrics{
		TotalEvents:       latest,
		LatestSeq:         latest,
		Subscriptions:     f.router.SubscriptionCount(),
		DroppedDeliveries: f.router.Dropped(),
		LastTimestamp:     f.clock.Last(),
	}
}

// Close releases the journal. The fabric is unusable afterwards.
func (f *Fabric) Close() error {
	if err := f.journal.Close(); err != nil {
		return newError(ErrCodeIO, "close", err)
	}
	return nil
}
