package stake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stake-group/bank"
	"stake-group/chain"
	"stake-group/db"
	"stake-group/hooks"
	"stake-group/logger"
	"stake-group/metrics"
	"stake-group/models"
	"stake-group/repository"
)

// DefaultCustody is the custody account used when none is configured
const DefaultCustody = "stake-group"

// Engine is the stake-weighted membership group. Members bond tokens for
// weight, unbond into time-locked claims and later claim the tokens back.
//
// Every state-changing call runs to completion under one lock inside one
// LevelDB transaction: either all of its ledger and snapshot writes commit
// or none do. Queries read a LevelDB snapshot of the last commit and never
// wait for a call in progress.
type Engine struct {
	db       *db.LevelDB
	chain    chain.Source
	notifier hooks.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	custody  string

	mux sync.Mutex
}

// Option is a set of configurable parameters. If left empty, defaults
// will be used
type Option func(e *Engine)

// WithNotifier sets where member change diffs are delivered
func WithNotifier(n hooks.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithMetrics records operations in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger overrides the package logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithCustody sets the account that holds bonded tokens
func WithCustody(addr string) Option {
	return func(e *Engine) {
		e.custody = addr
	}
}

func NewEngine(ldb *db.LevelDB, source chain.Source, opts ...Option) *Engine {
	e := &Engine{
		db:       ldb,
		chain:    source,
		notifier: nopNotifier{},
		log:      logger.Logger,
		custody:  DefaultCustody,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// txn carries the state of one call in progress
type txn struct {
	block  models.BlockInfo
	cfg    models.Config
	repo   *repository.Repository
	bank   *bank.Ledger
	bonds  bondingLedger
	claims claimsLedger

	diffs    []models.MemberDiff
	released []models.Coin
}

// Instantiate stores the group config and optional admin. It fails with
// ErrAlreadyInitialized if a config is already stored.
func (e *Engine) Instantiate(ctx context.Context, msg models.InstantiateMsg) error {
	if err := validateConfig(msg.Config, e.chain.Current()); err != nil {
		return err
	}

	e.mux.Lock()
	defer e.mux.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Discard()

	repo := repository.NewRepository(tx)
	if _, found, err := repo.GetConfig(); err != nil {
		return err
	} else if found {
		return ErrAlreadyInitialized
	}
	if err := repo.PutConfig(msg.Config); err != nil {
		return err
	}
	if msg.Admin != nil && *msg.Admin != "" {
		if err := repo.SetAdmin(msg.Admin); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.log.Info("Group instantiated",
		zap.String("denom", msg.Denom),
		zap.Uint64("tokens_per_weight", msg.TokensPerWeight),
		zap.Uint64("min_bond", msg.MinBond))
	return nil
}

// Instantiated reports whether a config is stored
func (e *Engine) Instantiated() (bool, error) {
	_, found, err := repository.NewReadRepository(e.db).GetConfig()
	return found, err
}

// Execute dispatches an ExecuteRequest to the matching call
func (e *Engine) Execute(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error) {
	if err := req.Msg.Validate(); err != nil {
		return nil, err
	}
	if req.Sender == "" {
		return nil, fmt.Errorf("%w: sender is required", models.ErrInvalidMsg)
	}
	msg := req.Msg
	switch {
	case msg.Bond != nil:
		return e.Bond(ctx, req.Sender, req.Funds)
	case msg.Unbond != nil:
		return e.Unbond(ctx, req.Sender, msg.Unbond.Tokens)
	case msg.Claim != nil:
		return e.Claim(ctx, req.Sender)
	case msg.UpdateAdmin != nil:
		return e.UpdateAdmin(ctx, req.Sender, msg.UpdateAdmin.Admin)
	case msg.AddHook != nil:
		return e.AddHook(ctx, req.Sender, msg.AddHook.Addr)
	default:
		return e.RemoveHook(ctx, req.Sender, msg.RemoveHook.Addr)
	}
}

// Bond adds the staking-denom funds sent by sender to its bond
func (e *Engine) Bond(ctx context.Context, sender string, funds []models.Coin) (*models.ExecuteResponse, error) {
	return e.execute(ctx, "bond", func(t *txn) error {
		amount, err := mustPay(funds, t.cfg.Denom)
		if err != nil {
			return err
		}
		if err := t.bank.Receive([]models.Coin{{Denom: t.cfg.Denom, Amount: amount}}); err != nil {
			return err
		}
		oldWeight, newWeight, err := t.bonds.bond(sender, amount)
		if err != nil {
			return err
		}
		e.log.Info("Bonded",
			zap.String("member", sender),
			zap.Uint64("amount", amount),
			zap.Uint64("height", t.block.Height))
		return t.updateWeight(sender, oldWeight, newWeight)
	})
}

// Unbond moves tokens from sender's bond into a new pending claim
func (e *Engine) Unbond(ctx context.Context, sender string, tokens uint64) (*models.ExecuteResponse, error) {
	return e.execute(ctx, "unbond", func(t *txn) error {
		oldWeight, newWeight, err := t.bonds.unbond(sender, tokens)
		if err != nil {
			return err
		}
		releaseAt, err := t.cfg.UnbondingPeriod.After(t.block)
		if err != nil {
			return err
		}
		if err := t.claims.create(sender, tokens, releaseAt); err != nil {
			return err
		}
		e.log.Info("Unbonded",
			zap.String("member", sender),
			zap.Uint64("amount", tokens),
			zap.Uint64("height", t.block.Height))
		return t.updateWeight(sender, oldWeight, newWeight)
	})
}

// Claim releases every matured claim of sender. Weight is untouched, it
// already dropped at unbond time.
func (e *Engine) Claim(ctx context.Context, sender string) (*models.ExecuteResponse, error) {
	return e.execute(ctx, "claim", func(t *txn) error {
		amount, err := t.claims.release(sender, t.block)
		if err != nil {
			return err
		}
		coins := []models.Coin{{Denom: t.cfg.Denom, Amount: amount}}
		if err := t.bank.Send(sender, coins); err != nil {
			return err
		}
		t.released = coins
		e.log.Info("Claimed",
			zap.String("member", sender),
			zap.Uint64("amount", amount),
			zap.Uint64("height", t.block.Height))
		return nil
	})
}

// UpdateAdmin replaces or clears the admin. Only the current admin may call it.
func (e *Engine) UpdateAdmin(ctx context.Context, sender string, admin *string) (*models.ExecuteResponse, error) {
	return e.execute(ctx, "update_admin", func(t *txn) error {
		if err := t.assertAdmin(sender); err != nil {
			return err
		}
		if admin != nil && *admin == "" {
			admin = nil
		}
		return t.repo.SetAdmin(admin)
	})
}

// AddHook registers a subscriber for member change diffs. Admin only.
func (e *Engine) AddHook(ctx context.Context, sender, addr string) (*models.ExecuteResponse, error) {
	return e.execute(ctx, "add_hook", func(t *txn) error {
		if err := t.assertAdmin(sender); err != nil {
			return err
		}
		registered, err := t.repo.GetHooks()
		if err != nil {
			return err
		}
		for _, h := range registered {
			if h == addr {
				return fmt.Errorf("%w: %s", ErrHookAlreadyRegistered, addr)
			}
		}
		return t.repo.SetHooks(append(registered, addr))
	})
}

// RemoveHook unregisters a subscriber. Admin only.
func (e *Engine) RemoveHook(ctx context.Context, sender, addr string) (*models.ExecuteResponse, error) {
	return e.execute(ctx, "remove_hook", func(t *txn) error {
		if err := t.assertAdmin(sender); err != nil {
			return err
		}
		registered, err := t.repo.GetHooks()
		if err != nil {
			return err
		}
		kept := make([]string, 0, len(registered))
		for _, h := range registered {
			if h != addr {
				kept = append(kept, h)
			}
		}
		if len(kept) == len(registered) {
			return fmt.Errorf("%w: %s", ErrHookNotRegistered, addr)
		}
		return t.repo.SetHooks(kept)
	})
}

// execute runs fn in a fresh transaction, commits on success and then
// hands any weight changes to the notifier.
func (e *Engine) execute(ctx context.Context, op string, fn func(t *txn) error) (*models.ExecuteResponse, error) {
	start := time.Now()
	resp, subscribers, err := e.commit(fn)
	e.metrics.ObserveOperation(op, start, err)
	if err != nil {
		e.log.Debug("Call rejected", zap.String("operation", op), zap.Error(err))
		return nil, err
	}
	if len(resp.Diffs) > 0 && len(subscribers) > 0 {
		e.notifier.Notify(ctx, subscribers, models.MemberChangedHookMsg{Diffs: resp.Diffs})
	}
	return resp, nil
}

func (e *Engine) commit(fn func(t *txn) error) (*models.ExecuteResponse, []string, error) {
	e.mux.Lock()
	defer e.mux.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	// no-op once committed
	defer tx.Discard()

	repo := repository.NewRepository(tx)
	cfg, found, err := repo.GetConfig()
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, ErrNotInitialized
	}
	t := &txn{
		block:  e.chain.Current(),
		cfg:    cfg,
		repo:   repo,
		bank:   bank.NewLedger(tx, e.custody),
		bonds:  bondingLedger{repo: repo, policy: NewPolicy(cfg)},
		claims: claimsLedger{repo: repo},
	}
	if err := fn(t); err != nil {
		return nil, nil, err
	}

	subscribers, err := repo.GetHooks()
	if err != nil {
		return nil, nil, err
	}
	total, err := repo.Total()
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	e.metrics.SetState(t.block.Height, total)

	diffs := t.diffs
	if diffs == nil {
		diffs = []models.MemberDiff{}
	}
	return &models.ExecuteResponse{
		Height:   t.block.Height,
		Diffs:    diffs,
		Released: t.released,
	}, subscribers, nil
}

// updateWeight snapshots a member's new weight and applies the delta to the
// total at the current height. Unchanged weights record nothing.
func (t *txn) updateWeight(member string, oldWeight, newWeight uint64) error {
	if oldWeight == newWeight {
		return nil
	}
	if _, err := t.repo.RecordWeight(member, t.block.Height, newWeight); err != nil {
		return err
	}
	total, err := t.repo.Total()
	if err != nil {
		return err
	}
	if total < oldWeight {
		return fmt.Errorf("total weight %d below member weight %d", total, oldWeight)
	}
	total = total - oldWeight + newWeight
	if total < newWeight {
		return fmt.Errorf("total weight: %w", ErrOverflow)
	}
	if _, err := t.repo.RecordTotal(t.block.Height, total); err != nil {
		return err
	}
	t.diffs = append(t.diffs, models.NewMemberDiff(member, oldWeight, newWeight))
	return nil
}

func (t *txn) assertAdmin(sender string) error {
	admin, err := t.repo.GetAdmin()
	if err != nil {
		return err
	}
	if admin == nil || *admin != sender {
		return ErrUnauthorized
	}
	return nil
}

// mustPay returns the amount of denom in funds, requiring it to be the
// only denom sent.
func mustPay(funds []models.Coin, denom string) (uint64, error) {
	coins, err := models.Balance(funds).Normalize()
	if err != nil {
		return 0, err
	}
	switch len(coins) {
	case 0:
		return 0, ErrZeroAmount
	case 1:
		if coins[0].Denom != denom {
			return 0, fmt.Errorf("%w: %s", ErrMissingDenom, denom)
		}
		return coins[0].Amount, nil
	default:
		return 0, ErrExtraDenoms
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, []string, models.MemberChangedHookMsg) {}
