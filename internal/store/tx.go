package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/google/uuid"
)

type opKind int

const (
	opAdd opKind = iota
	opUpdate
	opDelete
)

type stagedOp struct {
	kind   opKind
	id     string
	record *model.Record
}

// appliedOp remembers enough to reverse one operation already applied to the
// engine during a commit attempt.
type appliedOp struct {
	kind     opKind
	id       string
	snapshot *model.Record
}

// Tx groups a sequence of store operations into an atomic unit. Operations
// are staged in order and applied against the engine only on Commit; Rollback
// discards the staged log without touching the engine. Staged state is
// visible to reads issued through the same transaction; other readers of the
// engine never observe in-flight operations.
//
// A Tx is bound to one store for its lifetime and is destroyed by Commit or
// Rollback; any operation after that fails with ErrTransactionClosed.
type Tx struct {
	store ProductStore

	mu     sync.Mutex
	ops    []stagedOp
	view   map[string]*model.Record // staged state per ID; nil marks a staged delete
	closed bool
}

// Begin opens a transaction bound to the given store.
func Begin(s ProductStore) *Tx {
	return &Tx{
		store: s,
		view:  make(map[string]*model.Record),
	}
}

// Add stages a new record. The ID is assigned immediately, using the engine's
// ID scheme, so transaction-local reads see the record before commit.
func (t *Tx) Add(_ context.Context, rec *model.Record) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", perrors.ErrTransactionClosed
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	staged := rec.Clone()
	if staged.ID == "" {
		if g, ok := t.store.(interface {
			freshID(*model.Record) string
		}); ok {
			staged.ID = g.freshID(staged)
		} else {
			staged.ID = uuid.NewString()
		}
	}
	rec.ID = staged.ID

	t.ops = append(t.ops, stagedOp{kind: opAdd, id: staged.ID, record: staged})
	t.view[staged.ID] = staged
	return staged.ID, nil
}

// Get returns the most-current value of a record considering prior staged
// operations in this transaction, falling back to the engine if not staged.
func (t *Tx) Get(ctx context.Context, id string) (*model.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, perrors.ErrTransactionClosed
	}

	if staged, ok := t.view[id]; ok {
		if staged == nil {
			return nil, fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
		}
		return staged.Clone(), nil
	}
	return t.store.Get(ctx, id)
}

// Update stages a replacement of the record with the given ID.
func (t *Tx) Update(_ context.Context, id string, rec *model.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return perrors.ErrTransactionClosed
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if staged, ok := t.view[id]; ok && staged == nil {
		return fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}

	staged := rec.Clone()
	staged.ID = id
	t.ops = append(t.ops, stagedOp{kind: opUpdate, id: id, record: staged})
	t.view[id] = staged
	return nil
}

// Delete stages the removal of the record with the given ID.
func (t *Tx) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return perrors.ErrTransactionClosed
	}
	if staged, ok := t.view[id]; ok && staged == nil {
		return fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}

	t.ops = append(t.ops, stagedOp{kind: opDelete, id: id})
	t.view[id] = nil
	return nil
}

// Commit applies every staged operation against the engine in the order they
// were staged. If any operation fails, all operations already applied during
// this commit attempt are undone (the added deleted, the updated and deleted
// restored from snapshots) and the originating error is reported; partial
// application is never observable afterward. The transaction is closed either
// way.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return perrors.ErrTransactionClosed
	}
	t.closed = true

	var applied []appliedOp
	for _, op := range t.ops {
		switch op.kind {
		case opAdd:
			if _, err := t.store.Save(ctx, op.record.Clone()); err != nil {
				return t.compensate(ctx, applied, fmt.Errorf("failed to apply staged add of %s: %w", op.id, err))
			}
			applied = append(applied, appliedOp{kind: opAdd, id: op.id})
		case opUpdate:
			snapshot, err := t.store.Get(ctx, op.id)
			if err != nil {
				return t.compensate(ctx, applied, fmt.Errorf("failed to apply staged update of %s: %w", op.id, err))
			}
			if err := t.store.Update(ctx, op.id, op.record.Clone()); err != nil {
				return t.compensate(ctx, applied, fmt.Errorf("failed to apply staged update of %s: %w", op.id, err))
			}
			applied = append(applied, appliedOp{kind: opUpdate, id: op.id, snapshot: snapshot})
		case opDelete:
			snapshot, err := t.store.Get(ctx, op.id)
			if err != nil {
				return t.compensate(ctx, applied, fmt.Errorf("failed to apply staged delete of %s: %w", op.id, err))
			}
			if err := t.store.Delete(ctx, op.id); err != nil {
				return t.compensate(ctx, applied, fmt.Errorf("failed to apply staged delete of %s: %w", op.id, err))
			}
			applied = append(applied, appliedOp{kind: opDelete, id: op.id, snapshot: snapshot})
		}
	}
	return nil
}

// compensate undoes already-applied operations in reverse order, best effort,
// and returns the originating commit error joined with any undo failures.
func (t *Tx) compensate(ctx context.Context, applied []appliedOp, cause error) error {
	var undoErrs []error
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		var err error
		switch op.kind {
		case opAdd:
			err = t.store.Delete(ctx, op.id)
		case opUpdate:
			err = t.store.Update(ctx, op.id, op.snapshot)
		case opDelete:
			_, err = t.store.Save(ctx, op.snapshot)
		}
		if err != nil {
			undoErrs = append(undoErrs, fmt.Errorf("failed to undo %s: %w", op.id, err))
		}
	}
	if len(undoErrs) > 0 {
		return errors.Join(cause, errors.Join(undoErrs...))
	}
	return cause
}

// Rollback discards the staged log without touching the engine, leaving it
// exactly as it was before the transaction began.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return perrors.ErrTransactionClosed
	}
	t.closed = true
	t.ops = nil
	t.view = nil
	return nil
}

// WithinTransaction runs fn inside a transaction: if fn returns an error the
// transaction is rolled back and the original error is returned; otherwise
// the transaction is committed on the clean return.
func WithinTransaction(ctx context.Context, s ProductStore, fn func(tx *Tx) error) error {
	tx := Begin(s)
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, perrors.ErrTransactionClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
