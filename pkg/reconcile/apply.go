package reconcile

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MutationError records one failed mutation.
type MutationError struct {
	Entity    string
	SourceKey string
	Describe  string
	Err       error
}

func (e MutationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.SourceKey, e.Err)
}

// Result summarizes an apply pass.
type Result struct {
	Applied int
	Failed  int
	// Blocked counts mutations skipped because a dependency failed or
	// was never mapped. Blocked mutations are not retried within the
	// run; a later run picks them up once the dependency resolves.
	Blocked int
	Errors  []MutationError
}

// Apply executes a plan stage by stage. Within a stage, mutations run
// concurrently up to the configured limit, except that mutations sharing
// a shard key are serialized. Destination ids are recorded in the source
// store the moment each mutation succeeds.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) (*Result, error) {
	result := &Result{}
	tracker := newFailureTracker()

	for _, stage := range plan.Stages {
		if len(stage.Mutations) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		r.logger.InfoWithFields("applying stage", map[string]interface{}{
			"stage":     stage.Name,
			"mutations": len(stage.Mutations),
		})

		if err := r.applyStage(ctx, stage, tracker, result); err != nil {
			return result, err
		}
	}

	r.logger.InfoWithFields("apply finished", map[string]interface{}{
		"applied": result.Applied,
		"failed":  result.Failed,
		"blocked": result.Blocked,
	})
	return result, nil
}

func (r *Reconciler) applyStage(ctx context.Context, stage Stage, tracker *failureTracker, result *Result) error {
	// Group by shard key; each group runs sequentially on one goroutine
	shards := make(map[string][]Mutation)
	var order []string
	for _, m := range stage.Mutations {
		key := m.ShardKey
		if key == "" {
			key = m.Entity + "/" + m.SourceKey
		}
		if _, seen := shards[key]; !seen {
			order = append(order, key)
		}
		shards[key] = append(shards[key], m)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, key := range order {
		mutations := shards[key]
		g.Go(func() error {
			for _, m := range mutations {
				if err := gctx.Err(); err != nil {
					return err
				}

				outcome, err := r.applyMutation(gctx, m, tracker)

				mu.Lock()
				switch outcome {
				case outcomeApplied:
					result.Applied++
				case outcomeBlocked:
					result.Blocked++
				case outcomeFailed:
					result.Failed++
					result.Errors = append(result.Errors, MutationError{
						Entity:    m.Entity,
						SourceKey: m.SourceKey,
						Describe:  m.Describe,
						Err:       err,
					})
				}
				mu.Unlock()
			}
			return nil
		})
	}

	return g.Wait()
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeBlocked
	outcomeFailed
)

func (r *Reconciler) applyMutation(ctx context.Context, m Mutation, tracker *failureTracker) (outcome, error) {
	for _, dep := range m.DependsOn {
		if tracker.failed(dep) {
			r.logger.WarnWithFields("mutation blocked by failed dependency", map[string]interface{}{
				"mutation":   m.Describe,
				"dependency": dep.Entity + "/" + dep.SourceKey,
			})
			return outcomeBlocked, nil
		}
		if _, mapped, err := r.src.DestinationID(dep.Entity, dep.SourceKey); err != nil {
			return outcomeFailed, err
		} else if !mapped {
			r.logger.WarnWithFields("mutation blocked by unmapped dependency", map[string]interface{}{
				"mutation":   m.Describe,
				"dependency": dep.Entity + "/" + dep.SourceKey,
			})
			return outcomeBlocked, nil
		}
	}

	destID, err := m.apply(ctx)
	if err != nil {
		tracker.markFailed(Ref{Entity: m.Entity, SourceKey: m.SourceKey})
		r.logger.ErrorWithFields("mutation failed", map[string]interface{}{
			"mutation": m.Describe,
			"error":    err.Error(),
		})
		return outcomeFailed, err
	}

	if destID != "" {
		// Persist immediately so a crash after this point never
		// recreates the entity
		if err := r.src.MapDestinationID(m.Entity, m.SourceKey, destID); err != nil {
			return outcomeFailed, fmt.Errorf("recording mapping for %s/%s: %w", m.Entity, m.SourceKey, err)
		}
	}

	r.logger.DebugWithFields("mutation applied", map[string]interface{}{
		"mutation": m.Describe,
	})
	return outcomeApplied, nil
}

// failureTracker records mutations that failed within the current run so
// dependents can be blocked instead of attempted.
type failureTracker struct {
	mu   sync.RWMutex
	refs map[Ref]bool
}

func newFailureTracker() *failureTracker {
	return &failureTracker{refs: make(map[Ref]bool)}
}

func (t *failureTracker) markFailed(ref Ref) {
	t.mu.Lock()
	t.refs[ref] = true
	t.mu.Unlock()
}

func (t *failureTracker) failed(ref Ref) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refs[ref]
}
