package stake_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"stake-group/chain"
	"stake-group/db"
	"stake-group/models"
	"stake-group/repository"
	"stake-group/stake"
)

const denom = "ustake"

var testCtx = context.Background()

// manualSource is a chain.Source whose block is set directly
type manualSource struct {
	mu    sync.Mutex
	block models.BlockInfo
}

func (s *manualSource) Current() models.BlockInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

func (s *manualSource) SetHeight(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block.Height = h
	s.block.Time = time.Unix(1_700_000_000+int64(h)*5, 0)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

type notification struct {
	hooks []string
	msg   models.MemberChangedHookMsg
}

func (n *recordingNotifier) Notify(_ context.Context, hooks []string, msg models.MemberChangedHookMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{hooks: hooks, msg: msg})
}

func (n *recordingNotifier) Calls() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

func scenarioConfig() models.InstantiateMsg {
	admin := "admin"
	return models.InstantiateMsg{
		Config: models.Config{
			Denom:           denom,
			TokensPerWeight: 50,
			MinBond:         100,
			UnbondingPeriod: models.HeightDuration(100),
		},
		Admin: &admin,
	}
}

func setupEngine(t *testing.T, src chain.Source, opts ...stake.Option) (*stake.Engine, *db.LevelDB) {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })

	engine := stake.NewEngine(ldb, src, opts...)
	require.NoError(t, engine.Instantiate(testCtx, scenarioConfig()))
	return engine, ldb
}

func coins(amount uint64) []models.Coin {
	return []models.Coin{{Denom: denom, Amount: amount}}
}

func weightOf(t *testing.T, e *stake.Engine, addr string, at *uint64) uint64 {
	t.Helper()
	resp, err := e.Member(addr, at)
	require.NoError(t, err)
	return resp.Weight
}

func height(h uint64) *uint64 { return &h }

func TestScenario(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src, err := chain.NewClockSource(clock, 0, clock.Now(), time.Second)
	require.NoError(t, err)
	engine, _ := setupEngine(t, src)

	clock.Advance(10 * time.Second)
	resp, err := engine.Bond(testCtx, "alice", coins(500))
	require.NoError(t, err)
	require.EqualValues(t, 10, resp.Height)
	require.Equal(t, []models.MemberDiff{models.NewMemberDiff("alice", 0, 10)}, resp.Diffs)
	require.EqualValues(t, 10, weightOf(t, engine, "alice", nil))
	total, err := engine.TotalWeight(nil)
	require.NoError(t, err)
	require.EqualValues(t, 10, total.Weight)

	clock.Advance(10 * time.Second)
	_, err = engine.Unbond(testCtx, "alice", 200)
	require.NoError(t, err)
	require.EqualValues(t, 6, weightOf(t, engine, "alice", nil))

	claims, err := engine.Claims("alice")
	require.NoError(t, err)
	require.Equal(t, []models.Claim{{Amount: 200, ReleaseAt: models.AtHeight(120)}}, claims.Claims)

	require.EqualValues(t, 10, weightOf(t, engine, "alice", height(15)))
	require.EqualValues(t, 0, weightOf(t, engine, "alice", height(9)))

	clock.Advance(99 * time.Second)
	require.EqualValues(t, 119, engine.Block().Height)
	_, err = engine.Claim(testCtx, "alice")
	require.ErrorIs(t, err, stake.ErrNothingToClaim)

	clock.Advance(time.Second)
	resp, err = engine.Claim(testCtx, "alice")
	require.NoError(t, err)
	require.Equal(t, coins(200), resp.Released)
	require.Empty(t, resp.Diffs)

	staked, err := engine.Staked("alice")
	require.NoError(t, err)
	require.EqualValues(t, 300, staked.BondedAmount)
	require.Equal(t, models.HeightDuration(100), staked.UnbondingPeriod)
	require.EqualValues(t, 6, weightOf(t, engine, "alice", nil))

	balance, err := engine.Balance("alice")
	require.NoError(t, err)
	require.Equal(t, models.Balance(coins(200)), balance)
	custody, err := engine.Balance(stake.DefaultCustody)
	require.NoError(t, err)
	require.Equal(t, models.Balance(coins(300)), custody)

	claims, err = engine.Claims("alice")
	require.NoError(t, err)
	require.Empty(t, claims.Claims)
}

func TestBondBelowMinimumHasNoWeight(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(1)
	engine, _ := setupEngine(t, src)

	resp, err := engine.Bond(testCtx, "alice", coins(99))
	require.NoError(t, err)
	require.Empty(t, resp.Diffs)
	require.Zero(t, weightOf(t, engine, "alice", nil))

	// crossing the minimum counts the whole bond
	resp, err = engine.Bond(testCtx, "alice", coins(1))
	require.NoError(t, err)
	require.EqualValues(t, 2, weightOf(t, engine, "alice", nil))
	require.Len(t, resp.Diffs, 1)
}

func TestBondFundsValidation(t *testing.T) {
	src := &manualSource{}
	engine, _ := setupEngine(t, src)

	_, err := engine.Bond(testCtx, "alice", nil)
	require.ErrorIs(t, err, stake.ErrZeroAmount)
	_, err = engine.Bond(testCtx, "alice", coins(0))
	require.ErrorIs(t, err, stake.ErrZeroAmount)
	_, err = engine.Bond(testCtx, "alice", []models.Coin{{Denom: "other", Amount: 5}})
	require.ErrorIs(t, err, stake.ErrMissingDenom)
	_, err = engine.Bond(testCtx, "alice", []models.Coin{{Denom: denom, Amount: 5}, {Denom: "other", Amount: 5}})
	require.ErrorIs(t, err, stake.ErrExtraDenoms)

	// duplicate entries of the staking denom are merged
	_, err = engine.Bond(testCtx, "alice", []models.Coin{{Denom: denom, Amount: 60}, {Denom: denom, Amount: 40}})
	require.NoError(t, err)
	staked, err := engine.Staked("alice")
	require.NoError(t, err)
	require.EqualValues(t, 100, staked.BondedAmount)
}

func TestUnbondValidation(t *testing.T) {
	src := &manualSource{}
	engine, _ := setupEngine(t, src)
	_, err := engine.Bond(testCtx, "alice", coins(500))
	require.NoError(t, err)

	_, err = engine.Unbond(testCtx, "alice", 0)
	require.ErrorIs(t, err, stake.ErrZeroAmount)
	_, err = engine.Unbond(testCtx, "alice", 501)
	require.ErrorIs(t, err, stake.ErrInsufficientBalance)
	_, err = engine.Unbond(testCtx, "bob", 1)
	require.ErrorIs(t, err, stake.ErrInsufficientBalance)

	claims, err := engine.Claims("alice")
	require.NoError(t, err)
	require.Empty(t, claims.Claims)
}

func TestPartialClaim(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(1)
	engine, _ := setupEngine(t, src)
	_, err := engine.Bond(testCtx, "alice", coins(1000))
	require.NoError(t, err)

	for _, h := range []uint64{10, 20, 30} {
		src.SetHeight(h)
		_, err = engine.Unbond(testCtx, "alice", h)
		require.NoError(t, err)
	}

	// claims made at 10 and 20 have matured, the one from 30 has not
	src.SetHeight(125)
	resp, err := engine.Claim(testCtx, "alice")
	require.NoError(t, err)
	require.Equal(t, coins(30), resp.Released)

	claims, err := engine.Claims("alice")
	require.NoError(t, err)
	require.Equal(t, []models.Claim{{Amount: 30, ReleaseAt: models.AtHeight(130)}}, claims.Claims)

	_, err = engine.Claim(testCtx, "alice")
	require.ErrorIs(t, err, stake.ErrNothingToClaim)

	src.SetHeight(130)
	resp, err = engine.Claim(testCtx, "alice")
	require.NoError(t, err)
	require.Equal(t, coins(30), resp.Released)
}

func TestTimeUnbondingPeriod(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src, err := chain.NewClockSource(clock, 1, clock.Now(), 5*time.Second)
	require.NoError(t, err)

	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	engine := stake.NewEngine(ldb, src)
	msg := scenarioConfig()
	msg.UnbondingPeriod = models.TimeDuration(time.Minute)
	require.NoError(t, engine.Instantiate(testCtx, msg))

	_, err = engine.Bond(testCtx, "alice", coins(100))
	require.NoError(t, err)
	_, err = engine.Unbond(testCtx, "alice", 100)
	require.NoError(t, err)

	clock.Advance(55 * time.Second)
	_, err = engine.Claim(testCtx, "alice")
	require.ErrorIs(t, err, stake.ErrNothingToClaim)

	clock.Advance(5 * time.Second)
	_, err = engine.Claim(testCtx, "alice")
	require.NoError(t, err)
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(50)
	engine, ldb := setupEngine(t, src)
	_, err := engine.Bond(testCtx, "alice", coins(500))
	require.NoError(t, err)

	// a block source going backwards makes the snapshot write fail after
	// the bank and bonding ledger were already written
	src.SetHeight(40)
	_, err = engine.Bond(testCtx, "alice", coins(500))
	require.ErrorIs(t, err, repository.ErrBackdated)

	staked, err := engine.Staked("alice")
	require.NoError(t, err)
	require.EqualValues(t, 500, staked.BondedAmount)
	custody, err := engine.Balance(stake.DefaultCustody)
	require.NoError(t, err)
	require.Equal(t, models.Balance(coins(500)), custody)

	repo := repository.NewReadRepository(ldb)
	w, err := repo.Weight("alice")
	require.NoError(t, err)
	require.EqualValues(t, 10, w)
}

func TestAdmin(t *testing.T) {
	src := &manualSource{}
	engine, _ := setupEngine(t, src)

	next := "next"
	_, err := engine.UpdateAdmin(testCtx, "mallory", &next)
	require.ErrorIs(t, err, stake.ErrUnauthorized)

	_, err = engine.UpdateAdmin(testCtx, "admin", &next)
	require.NoError(t, err)
	admin, err := engine.Admin()
	require.NoError(t, err)
	require.Equal(t, "next", *admin.Admin)

	_, err = engine.UpdateAdmin(testCtx, "next", nil)
	require.NoError(t, err)
	admin, err = engine.Admin()
	require.NoError(t, err)
	require.Nil(t, admin.Admin)

	// without an admin nobody is authorized
	_, err = engine.UpdateAdmin(testCtx, "next", &next)
	require.ErrorIs(t, err, stake.ErrUnauthorized)
}

func TestHooks(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(3)
	notifier := &recordingNotifier{}
	engine, _ := setupEngine(t, src, stake.WithNotifier(notifier))

	_, err := engine.AddHook(testCtx, "mallory", "http://hook")
	require.ErrorIs(t, err, stake.ErrUnauthorized)
	_, err = engine.AddHook(testCtx, "admin", "http://hook")
	require.NoError(t, err)
	_, err = engine.AddHook(testCtx, "admin", "http://hook")
	require.ErrorIs(t, err, stake.ErrHookAlreadyRegistered)

	hooks, err := engine.Hooks()
	require.NoError(t, err)
	require.Equal(t, []string{"http://hook"}, hooks.Hooks)

	_, err = engine.Bond(testCtx, "alice", coins(150))
	require.NoError(t, err)
	// no weight change, no notification
	_, err = engine.Bond(testCtx, "alice", coins(10))
	require.NoError(t, err)
	_, err = engine.Unbond(testCtx, "alice", 160)
	require.NoError(t, err)

	calls := notifier.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, []string{"http://hook"}, calls[0].hooks)
	require.Equal(t, []models.MemberDiff{models.NewMemberDiff("alice", 0, 3)}, calls[0].msg.Diffs)
	require.Equal(t, []models.MemberDiff{models.NewMemberDiff("alice", 3, 0)}, calls[1].msg.Diffs)

	_, err = engine.RemoveHook(testCtx, "admin", "http://other")
	require.ErrorIs(t, err, stake.ErrHookNotRegistered)
	_, err = engine.RemoveHook(testCtx, "admin", "http://hook")
	require.NoError(t, err)
	hooks, err = engine.Hooks()
	require.NoError(t, err)
	require.Empty(t, hooks.Hooks)
}

func TestNotInstantiated(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	engine := stake.NewEngine(ldb, &manualSource{})

	ok, err := engine.Instantiated()
	require.NoError(t, err)
	require.False(t, ok)
	_, err = engine.Bond(testCtx, "alice", coins(100))
	require.ErrorIs(t, err, stake.ErrNotInitialized)

	// unknown members read as zero
	require.Zero(t, weightOf(t, engine, "alice", nil))

	require.NoError(t, engine.Instantiate(testCtx, scenarioConfig()))
	require.ErrorIs(t, engine.Instantiate(testCtx, scenarioConfig()), stake.ErrAlreadyInitialized)
}

func TestInstantiateRejectsBadConfig(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	engine := stake.NewEngine(ldb, &manualSource{})

	msg := scenarioConfig()
	msg.TokensPerWeight = 0
	require.ErrorIs(t, engine.Instantiate(testCtx, msg), stake.ErrInvalidConfig)

	msg = scenarioConfig()
	msg.UnbondingPeriod = models.Duration{}
	require.ErrorIs(t, engine.Instantiate(testCtx, msg), stake.ErrInvalidConfig)
}

func TestInstantiateRejectsOverflowingPeriod(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(10)
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	engine := stake.NewEngine(ldb, src)

	msg := scenarioConfig()
	msg.UnbondingPeriod = models.HeightDuration(math.MaxUint64)
	require.ErrorIs(t, engine.Instantiate(testCtx, msg), stake.ErrInvalidConfig)

	secs := uint64(18446744074)
	msg.UnbondingPeriod = models.Duration{Time: &secs}
	require.ErrorIs(t, engine.Instantiate(testCtx, msg), stake.ErrInvalidConfig)

	instantiated, err := engine.Instantiated()
	require.NoError(t, err)
	require.False(t, instantiated)
}

func TestUnbondPastLastHeightFails(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(0)
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	engine := stake.NewEngine(ldb, src)

	msg := scenarioConfig()
	msg.UnbondingPeriod = models.HeightDuration(math.MaxUint64 - 100)
	require.NoError(t, engine.Instantiate(testCtx, msg))

	src.SetHeight(10)
	_, err = engine.Bond(testCtx, "alice", coins(500))
	require.NoError(t, err)

	// release height would wrap past the last height
	src.SetHeight(200)
	_, err = engine.Unbond(testCtx, "alice", 200)
	require.ErrorIs(t, err, stake.ErrOverflow)

	_, err = engine.Claim(testCtx, "alice")
	require.ErrorIs(t, err, stake.ErrNothingToClaim)
	staked, err := engine.Staked("alice")
	require.NoError(t, err)
	require.EqualValues(t, 500, staked.BondedAmount)
	require.EqualValues(t, 10, weightOf(t, engine, "alice", nil))
}

func TestLongSenderHistoryIsIsolated(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(10)
	engine, _ := setupEngine(t, src)

	long := "x" + strings.Repeat("\x00", 1<<16)
	_, err := engine.Bond(testCtx, long, coins(5000))
	require.NoError(t, err)

	require.Zero(t, weightOf(t, engine, "x", height(20)))
	require.EqualValues(t, 100, weightOf(t, engine, long, height(20)))
}

func TestInstantiateLogsOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	engine := stake.NewEngine(ldb, &manualSource{}, stake.WithLogger(zap.New(core)))

	require.NoError(t, engine.Instantiate(testCtx, scenarioConfig()))
	require.ErrorIs(t, engine.Instantiate(testCtx, scenarioConfig()), stake.ErrAlreadyInitialized)

	entries := logs.FilterMessage("Group instantiated").All()
	require.Len(t, entries, 1)
	require.Equal(t, denom, entries[0].ContextMap()["denom"])
}

func TestListMembers(t *testing.T) {
	src := &manualSource{}
	src.SetHeight(1)
	engine, _ := setupEngine(t, src)

	for i := 0; i < 35; i++ {
		_, err := engine.Bond(testCtx, fmt.Sprintf("member%02d", i), coins(100))
		require.NoError(t, err)
	}
	// below the minimum, never listed
	_, err := engine.Bond(testCtx, "dust", coins(10))
	require.NoError(t, err)

	page, err := engine.ListMembers(nil, nil)
	require.NoError(t, err)
	require.Len(t, page.Members, stake.DefaultLimit)
	require.Equal(t, "member00", page.Members[0].Addr)

	limit := uint32(100)
	page, err = engine.ListMembers(nil, &limit)
	require.NoError(t, err)
	require.Len(t, page.Members, stake.MaxLimit)

	after := "member33"
	page, err = engine.ListMembers(&after, &limit)
	require.NoError(t, err)
	require.Equal(t, []models.Member{{Addr: "member34", Weight: 2}}, page.Members)
}
