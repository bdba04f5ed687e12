package variant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxDepth      = 8
	DefaultSettleTimeout = 5 * time.Second
	DefaultRetryBudget   = 1
)

// Provider exposes the selection controls of a bound product page.
type Provider interface {
	// OptionsCount returns how many options parameter param offers in the
	// current page state. Zero means the parameter does not exist.
	OptionsCount(ctx context.Context, param int) (int, error)
	// HasDefaultSelection reports whether param already has an option chosen.
	HasDefaultSelection(ctx context.Context, param int) (bool, error)
	// Select chooses option for param.
	Select(ctx context.Context, param, option int) error
}

// InvalidChecker flags selection paths that do not map to a purchasable
// variant. Strategies implement it optionally.
type InvalidChecker interface {
	IsInvalidCombination(ctx context.Context, path SelectionPath) (bool, error)
}

// Strategy is the per-retailer capability set the Explorer drives.
type Strategy interface {
	Provider
	Extractor
}

// Config bounds one exploration.
type Config struct {
	// Limit caps the number of emitted variants. Zero means unbounded.
	Limit int
	// MaxDepth caps the number of parameters walked.
	MaxDepth int
	// SettleTimeout bounds each WaitForChange.
	SettleTimeout time.Duration
	// RetryBudget bounds retries per branch for any Classifier. Negative
	// disables retries.
	RetryBudget int
}

// Hooks observe exploration as it happens. Nil hooks are ignored.
type Hooks struct {
	OnEmit func(record Record)
	OnSkip func(attempt Attempt, err error)
}

// Result summarises one exploration. It is returned alongside fatal errors
// so callers keep partial results.
type Result struct {
	GroupURL  string
	Emitted   int
	Skipped   int
	Invalid   int
	Truncated bool
	Snapshots []Snapshot
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithClassifier replaces the DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(e *Explorer) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Explorer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp records.
func WithClock(clock Clock) Option {
	return func(e *Explorer) {
		e.clock = clock
	}
}

// WithHooks registers exploration callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Explorer) {
		e.hooks = h
	}
}

// WithRetailer tags records with the retailer domain.
func WithRetailer(domain string) Option {
	return func(e *Explorer) {
		e.retailer = domain
	}
}

// WithSession tags records with the browsing session id.
func WithSession(id string) Option {
	return func(e *Explorer) {
		e.session = id
	}
}

// Explorer enumerates every distinct reachable variant of one product page.
type Explorer struct {
	strategy   Strategy
	invalid    InvalidChecker
	observer   Observer
	emitter    *Emitter
	classifier Classifier
	cfg        Config
	logger     *zap.Logger
	hooks      Hooks
	clock      Clock
	retailer   string
	session    string
}

// New builds an Explorer for a page already bound to strategy.
func New(strategy Strategy, observer Observer, sink Sink, cfg Config, opts ...Option) (*Explorer, error) {
	if strategy == nil {
		return nil, errors.New("strategy is required")
	}
	if observer == nil {
		return nil, errors.New("observer is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0, got %d", cfg.Limit)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	switch {
	case cfg.RetryBudget == 0:
		cfg.RetryBudget = DefaultRetryBudget
	case cfg.RetryBudget < 0:
		cfg.RetryBudget = 0
	}

	e := &Explorer{
		strategy: strategy,
		observer: observer,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	e.classifier = DefaultClassifier{RetryBudget: cfg.RetryBudget}
	if checker, ok := strategy.(InvalidChecker); ok {
		e.invalid = checker
	}
	for _, opt := range opts {
		opt(e)
	}
	e.emitter = NewEmitter(strategy, sink, e.clock, e.retailer, e.session)
	return e, nil
}

// Explore walks the page from its current state with a fresh ExploredSet.
// The returned Result is valid even when err is non-nil.
func (e *Explorer) Explore(ctx context.Context, groupURL string) (Result, error) {
	return e.ExploreWith(ctx, groupURL, NewExploredSet())
}

// ExploreWith is Explore over an ExploredSet carried in from an earlier
// attempt at the same product. Snapshots already in explored are not
// emitted again and variant numbering continues from explored.Len().
func (e *Explorer) ExploreWith(ctx context.Context, groupURL string, explored *ExploredSet) (Result, error) {
	r := e.newRun(groupURL, explored)

	var state Snapshot
	_, err := r.try(ctx, Attempt{Stage: StageObserve}, func(ctx context.Context) error {
		snap, err := e.observer.Capture(ctx)
		state = snap
		return err
	})
	if err == nil {
		_, err = r.walk(ctx, 0, nil, state)
	}

	res := r.result()
	r.logger.Info("variant exploration finished",
		zap.Int("emitted", res.Emitted),
		zap.Int("skipped", res.Skipped),
		zap.Int("invalid", res.Invalid),
		zap.Bool("truncated", res.Truncated),
		zap.Error(err),
	)
	return res, err
}

// Walk explores parameter param and everything below it, starting from the
// page state state reached through path. explored is shared across the
// whole traversal. It returns the last observed state and the number of
// variants emitted so far.
func (e *Explorer) Walk(
	ctx context.Context,
	param int,
	path SelectionPath,
	groupURL string,
	explored *ExploredSet,
	state Snapshot,
) (Snapshot, int, error) {
	r := e.newRun(groupURL, explored)
	state, err := r.walk(ctx, param, path, state)
	return state, explored.Len(), err
}

// run carries the per-exploration state threaded through the recursion.
type run struct {
	e         *Explorer
	groupURL  string
	explored  *ExploredSet
	logger    *zap.Logger
	skipped   int
	invalid   int
	truncated bool
}

func (e *Explorer) newRun(groupURL string, explored *ExploredSet) *run {
	return &run{
		e:        e,
		groupURL: groupURL,
		explored: explored,
		logger:   e.logger.With(zap.String("variant_group_url", groupURL)),
	}
}

func (r *run) result() Result {
	return Result{
		GroupURL:  r.groupURL,
		Emitted:   r.explored.Len(),
		Skipped:   r.skipped,
		Invalid:   r.invalid,
		Truncated: r.truncated,
		Snapshots: r.explored.Snapshots(),
	}
}

func (r *run) limitReached() bool {
	return r.e.cfg.Limit > 0 && r.explored.Len() >= r.e.cfg.Limit
}

func (r *run) walk(ctx context.Context, param int, path SelectionPath, state Snapshot) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return state, &ProductError{URL: r.groupURL, Stage: StageCount, Path: path.Clone(), Err: err}
	}
	if r.limitReached() {
		r.truncated = true
		return state, nil
	}
	if param >= r.e.cfg.MaxDepth {
		r.logger.Warn("max exploration depth reached",
			zap.Int("max_depth", r.e.cfg.MaxDepth),
			zap.Stringer("path", path),
		)
		return r.emitLeaf(ctx, param, path, state)
	}

	var count int
	skipped, err := r.try(ctx, Attempt{Stage: StageCount, Param: param, Path: path}, func(ctx context.Context) error {
		n, err := r.e.strategy.OptionsCount(ctx, param)
		count = n
		return err
	})
	if err != nil || skipped {
		return state, err
	}
	if count <= 0 {
		return r.emitLeaf(ctx, param, path, state)
	}

	var hasDefault bool
	if _, err := r.try(ctx, Attempt{Stage: StageDefault, Param: param, Path: path}, func(ctx context.Context) error {
		ok, err := r.e.strategy.HasDefaultSelection(ctx, param)
		hasDefault = ok
		return err
	}); err != nil {
		return state, err
	}

	for opt := 0; opt < count; opt++ {
		if r.limitReached() {
			r.truncated = true
			break
		}
		next := path.Append(opt)

		if !(opt == 0 && hasDefault) {
			settled, ok, err := r.selectAndSettle(ctx, param, opt, next, state)
			if err != nil {
				return state, err
			}
			state = settled
			if !ok {
				continue
			}
		}

		if r.e.invalid != nil {
			var invalid bool
			skipped, err := r.try(ctx, Attempt{Stage: StageCheck, Param: param, Path: next}, func(ctx context.Context) error {
				bad, err := r.e.invalid.IsInvalidCombination(ctx, next)
				invalid = bad
				return err
			})
			if err != nil {
				return state, err
			}
			if skipped {
				continue
			}
			if invalid {
				r.invalid++
				r.logger.Debug("skipping invalid combination", zap.Stringer("path", next))
				continue
			}
		}

		state, err = r.walk(ctx, param+1, next, state)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// selectAndSettle chooses opt and waits for the page to react. ok is false
// when the branch was skipped; the returned state is then a best-effort
// re-read of the page.
func (r *run) selectAndSettle(
	ctx context.Context,
	param, opt int,
	path SelectionPath,
	prev Snapshot,
) (Snapshot, bool, error) {
	skipped, err := r.try(ctx, Attempt{Stage: StageSelect, Param: param, Path: path}, func(ctx context.Context) error {
		return r.e.strategy.Select(ctx, param, opt)
	})
	if err != nil {
		return prev, false, err
	}
	if skipped {
		snap, err := r.recapture(ctx, Attempt{Stage: StageSelect, Param: param, Path: path}, prev)
		return snap, false, err
	}

	settled := prev
	skipped, err = r.try(ctx, Attempt{Stage: StageObserve, Param: param, Path: path}, func(ctx context.Context) error {
		snap, err := r.e.observer.WaitForChange(ctx, prev, r.e.cfg.SettleTimeout)
		settled = snap
		return err
	})
	if err != nil {
		return prev, false, err
	}
	if skipped {
		snap, err := r.recapture(ctx, Attempt{Stage: StageObserve, Param: param, Path: path}, prev)
		return snap, false, err
	}
	if settled == prev {
		r.logger.Debug("selection had no observable effect", zap.Stringer("path", path))
	}
	return settled, true, nil
}

// recapture re-reads the page after a skipped branch. Failures that would
// abort the product or the session still do; anything milder falls back to
// prev without counting a second skip.
func (r *run) recapture(ctx context.Context, attempt Attempt, prev Snapshot) (Snapshot, error) {
	snap, err := r.e.observer.Capture(ctx)
	if err == nil {
		return snap, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return prev, r.abort(attempt, ClassFatalProduct, withCause(ctxErr, err))
	}
	switch class := r.e.classifier.Classify(attempt, err); class {
	case ClassFatalSession, ClassFatalProduct:
		return prev, r.abort(attempt, class, err)
	default:
		r.logger.Debug("recapture after skip failed",
			zap.Stringer("path", attempt.Path),
			zap.Error(err),
		)
		return prev, nil
	}
}

func (r *run) emitLeaf(ctx context.Context, param int, path SelectionPath, state Snapshot) (Snapshot, error) {
	key := state
	if key.IsZero() {
		key = PathSnapshot(path)
	}
	if r.explored.Contains(key) {
		r.logger.Debug("variant already explored", zap.Stringer("path", path))
		return state, nil
	}

	var record Record
	skipped, err := r.try(ctx, Attempt{Stage: StageExtract, Param: param, Path: path}, func(ctx context.Context) error {
		rec, err := r.e.emitter.Emit(ctx, r.groupURL, r.explored.Len(), path)
		record = rec
		return err
	})
	if err != nil || skipped {
		return state, err
	}
	r.explored.Add(key)
	if r.e.hooks.OnEmit != nil {
		r.e.hooks.OnEmit(record)
	}
	return state, nil
}

// try runs fn until it succeeds or the classifier gives up on it. skipped
// reports that the branch was abandoned; err is non-nil only for fatal
// classes and sink failures.
func (r *run) try(ctx context.Context, attempt Attempt, fn func(ctx context.Context) error) (skipped bool, err error) {
	for try := 0; ; try++ {
		callErr := fn(ctx)
		if callErr == nil {
			return false, nil
		}
		var sinkErr *SinkError
		if errors.As(callErr, &sinkErr) {
			return false, callErr
		}

		attempt.Try = try
		// A deadline or cancellation on the product context is never a
		// branch problem, whatever the page call wrapped it in.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, r.abort(attempt, ClassFatalProduct, withCause(ctxErr, callErr))
		}
		class := r.e.classifier.Classify(attempt, callErr)
		if class == ClassRetry && try >= r.e.cfg.RetryBudget {
			class = ClassSkip
		}

		switch class {
		case ClassRetry:
			r.logger.Debug("retrying branch", r.attemptFields(attempt, class, callErr)...)
		case ClassSkip:
			r.skipped++
			r.logger.Info("branch skipped", r.attemptFields(attempt, class, callErr)...)
			if r.e.hooks.OnSkip != nil {
				r.e.hooks.OnSkip(attempt, callErr)
			}
			return true, nil
		default:
			return false, r.abort(attempt, class, callErr)
		}
	}
}

// abort wraps err as the typed failure for class and logs it.
func (r *run) abort(attempt Attempt, class Class, err error) error {
	fields := r.attemptFields(attempt, class, err)
	if class == ClassFatalSession {
		r.logger.Warn("session burned", fields...)
		return &SessionError{URL: r.groupURL, Stage: attempt.Stage, Path: attempt.Path.Clone(), Err: err}
	}
	r.logger.Warn("product exploration aborted", fields...)
	return &ProductError{URL: r.groupURL, Stage: attempt.Stage, Path: attempt.Path.Clone(), Err: err}
}

func (r *run) attemptFields(attempt Attempt, class Class, err error) []zap.Field {
	return []zap.Field{
		zap.String("stage", string(attempt.Stage)),
		zap.Int("param", attempt.Param),
		zap.Stringer("path", attempt.Path),
		zap.Int("try", attempt.Try),
		zap.Stringer("class", class),
		zap.Error(err),
	}
}

// withCause keeps ctxErr matchable with errors.Is while preserving the
// error the page call reported.
func withCause(ctxErr, err error) error {
	if errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ctxErr, err)
}
