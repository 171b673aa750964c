// Package reconcile classifies incoming transactions against the persisted
// store as Insert, Update or Skip and produces the write plan for a batch.
package reconcile

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/rs/zerolog"
)

// Action is what the plan does with one incoming record.
type Action int

const (
	ActionInsert Action = iota
	ActionUpdate
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	default:
		return "skip"
	}
}

// Decision is the outcome for one incoming record. For Insert and Update,
// Incoming is the payload to write; later records in the same batch may
// have rewritten it.
type Decision struct {
	Key      string
	Action   Action
	Incoming *domain.Transaction
	Existing *domain.StoredTransaction
}

// Plan is the write plan for one batch.
type Plan struct {
	Decisions []Decision
	Inserted  int
	Updated   int
	Skipped   int
}

// Writes returns the Insert and Update decisions as store operations.
func (p *Plan) Writes() []store.WriteOp {
	ops := make([]store.WriteOp, 0, p.Inserted+p.Updated)
	for _, d := range p.Decisions {
		switch d.Action {
		case ActionInsert:
			ops = append(ops, store.WriteOp{Kind: store.OpInsert, ExternalID: d.Key, Doc: d.Incoming})
		case ActionUpdate:
			ops = append(ops, store.WriteOp{Kind: store.OpUpdate, ExternalID: d.Key, Doc: d.Incoming})
		}
	}
	return ops
}

type viewState int

const (
	pendingInsert viewState = iota
	persisted
	pendingUpdate
)

// view is the current in-memory picture of one external id while a batch is
// being classified.
type view struct {
	state    viewState
	current  *domain.Transaction
	existing *domain.StoredTransaction
	decision int
}

// Engine reconciles batches. It holds no state between calls.
type Engine struct {
	log zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// Reconcile classifies batch against lookup. Snapshots for every external id
// in the batch are fetched in a single call. Records sharing an id produce
// exactly one write, carrying the latest values seen.
func (e *Engine) Reconcile(ctx context.Context, batch []*domain.Transaction, lookup store.SnapshotLookup) (*Plan, error) {
	plan := &Plan{Decisions: make([]Decision, 0, len(batch))}

	snapshots := map[string]*domain.StoredTransaction{}
	if ids := store.UniqueIDs(batch); len(ids) > 0 {
		found, err := lookup.FindByExternalIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("Reconcile: looking up %d ids: %w", len(ids), err)
		}
		snapshots = found
	}

	views := make(map[string]*view)

	for _, rec := range batch {
		if rec == nil {
			continue
		}

		key, ok := rec.Key()
		if !ok {
			plan.add(Decision{Action: ActionInsert, Incoming: rec})
			continue
		}

		v, seen := views[key]
		if !seen {
			if snap, ok := snapshots[key]; ok && snap != nil {
				v = &view{state: persisted, current: &snap.Transaction, existing: snap}
				views[key] = v
			} else {
				views[key] = &view{state: pendingInsert, current: rec, decision: len(plan.Decisions)}
				plan.add(Decision{Key: key, Action: ActionInsert, Incoming: rec})
				continue
			}
		}

		switch v.state {
		case pendingInsert:
			// Duplicate of a record not yet written: the later record replaces
			// the pending insert's payload.
			if rec.DiffersFrom(v.current) {
				v.current = rec
				plan.Decisions[v.decision].Incoming = v.current
				e.log.Debug().Str("external_id", key).Msg("Rewrote pending insert for duplicate id")
			}
			plan.add(Decision{Key: key, Action: ActionSkip, Incoming: rec})

		case persisted:
			if !rec.DiffersFrom(v.current) {
				plan.add(Decision{Key: key, Action: ActionSkip, Incoming: rec, Existing: v.existing})
				continue
			}
			v.state = pendingUpdate
			v.current = v.current.Overlay(rec)
			v.decision = len(plan.Decisions)
			plan.add(Decision{Key: key, Action: ActionUpdate, Incoming: rec, Existing: v.existing})

		case pendingUpdate:
			if rec.DiffersFrom(v.current) {
				v.current = v.current.Overlay(rec)
				d := &plan.Decisions[v.decision]
				d.Incoming = d.Incoming.Overlay(rec)
				e.log.Debug().Str("external_id", key).Msg("Coalesced repeated update for duplicate id")
			}
			plan.add(Decision{Key: key, Action: ActionSkip, Incoming: rec, Existing: v.existing})
		}
	}

	return plan, nil
}

func (p *Plan) add(d Decision) {
	p.Decisions = append(p.Decisions, d)
	switch d.Action {
	case ActionInsert:
		p.Inserted++
	case ActionUpdate:
		p.Updated++
	default:
		p.Skipped++
	}
}
