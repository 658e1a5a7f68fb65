package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/tonscope/lambo-indexer/internal/db"
	"github.com/tonscope/lambo-indexer/internal/tonapi"
	"github.com/tonscope/lambo-indexer/pkg/models"
)

const (
	trackedJetton = "0:4a3f061758b0b2b21a764c9a8bbcbd1a5e0e0d4a6f61361b0c28bd0b26b70b70"
	userRaw       = "0:031053133270be82ee6fd94d1963c0186868403a4f537040a0d533aab805b7af"
	otherJetton   = "0:ffff061758b0b2b21a764c9a8bbcbd1a5e0e0d4a6f61361b0c28bd0b26b70b70"
)

type contentKey struct {
	user       string
	ton, lambo float64
	ts         int64
}

type fakeStore struct {
	candidates []models.Transaction
	pool       models.Pool

	events  map[string]bool
	content map[contentKey]bool

	deleted  []int64
	promoted []db.Promotion

	promoteResult db.PromoteResult
}

func newStore(candidates ...models.Transaction) *fakeStore {
	return &fakeStore{
		candidates: candidates,
		pool: models.Pool{
			ID:           1,
			Address:      "0:pool",
			JettonMaster: trackedJetton,
			IsActive:     true,
		},
		events:        make(map[string]bool),
		content:       make(map[contentKey]bool),
		promoteResult: db.PromoteResult{Applied: true, WalletFound: true},
	}
}

func (f *fakeStore) FetchUnprocessed(ctx context.Context, limit int) ([]models.Transaction, error) {
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeStore) DeleteCandidate(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) HasClassifiedEvent(ctx context.Context, eventID string) (bool, error) {
	return f.events[eventID], nil
}

func (f *fakeStore) HasClassifiedContent(ctx context.Context, user string, ton, lambo float64, ts int64) (bool, error) {
	return f.content[contentKey{user, ton, lambo, ts}], nil
}

func (f *fakeStore) PromoteSwap(ctx context.Context, p db.Promotion) (db.PromoteResult, error) {
	f.promoted = append(f.promoted, p)
	if p.EventID != "" {
		f.events[p.EventID] = true
	}
	f.content[contentKey{p.UserAddress, p.TonAmount, p.LamboAmount, p.Timestamp}] = true
	r := f.promoteResult
	r.TotalUSD = p.TonAmount * p.TonUSDPrice
	return r, nil
}

func (f *fakeStore) GetPoolByID(ctx context.Context, id int64) (*models.Pool, error) {
	p := f.pool
	return &p, nil
}

type fakeEvents struct {
	events map[string]*models.Event
	errs   map[string]error
	chart  *models.ChartResponse
}

func (f *fakeEvents) GetEvent(ctx context.Context, txHash string) (*models.Event, error) {
	if err, ok := f.errs[txHash]; ok {
		return nil, err
	}
	ev, ok := f.events[txHash]
	if !ok {
		return nil, fmt.Errorf("no scripted event for %s", txHash)
	}
	return ev, nil
}

func (f *fakeEvents) GetPriceChart(ctx context.Context, token, currency string, start, end int64, points int) (*models.ChartResponse, error) {
	if f.chart == nil {
		return &models.ChartResponse{}, nil
	}
	return f.chart, nil
}

type fakeIndex struct {
	upserts map[string]float64
}

func newIndex() *fakeIndex { return &fakeIndex{upserts: make(map[string]float64)} }

func (f *fakeIndex) Upsert(ctx context.Context, address string, totalUSD float64) error {
	f.upserts[address] = totalUSD
	return nil
}

func candidate(id int64, hash string) models.Transaction {
	return models.Transaction{ID: id, TxHash: hash, LT: 100, Timestamp: 1700000000, PoolID: 1}
}

func buyEvent(ts int64) *models.Event {
	return &models.Event{
		EventID:   "ev-buy",
		Timestamp: ts,
		Actions: []models.EventAction{{
			Type: "JettonSwap",
			JettonSwap: &models.JettonSwapAction{
				TonIn:           1_500_000_000,
				AmountOut:       "250000000000",
				UserWallet:      models.AccountAddress{Address: userRaw},
				JettonMasterOut: models.AccountAddress{Address: trackedJetton},
			},
		}},
	}
}

func TestClassify_BuyPromotion(t *testing.T) {
	ts := int64(1700000100)
	store := newStore(candidate(1, "h-buy"))
	events := &fakeEvents{
		events: map[string]*models.Event{"h-buy": buyEvent(ts)},
		chart:  &models.ChartResponse{Points: [][2]float64{{float64(ts), 6.0}}},
	}
	index := newIndex()

	var alert *models.SwapAlert
	c := New(store, events, index, 10, 0)
	c.SetAlertFunc(func(a models.SwapAlert) { alert = &a })

	settled, err := c.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if settled != 1 || len(store.promoted) != 1 {
		t.Fatalf("Expected one promotion. settled=%d promoted=%d", settled, len(store.promoted))
	}

	p := store.promoted[0]
	if p.OperationType != models.OperationBuy {
		t.Errorf("Expected buy. Got: %s", p.OperationType)
	}
	if p.TonAmount != 1.5 || p.LamboAmount != 250.0 {
		t.Errorf("Unexpected amounts: %.4f TON, %.4f LAMBO", p.TonAmount, p.LamboAmount)
	}
	if p.TonUSDPrice != 6.0 {
		t.Errorf("Expected price 6.0. Got: %.4f", p.TonUSDPrice)
	}
	if p.UserAddress != userRaw {
		t.Errorf("Unexpected user: %s", p.UserAddress)
	}
	if p.Timestamp != ts {
		t.Errorf("Promotion must carry the event timestamp. Got: %d", p.Timestamp)
	}

	if got := index.upserts[userRaw]; got != 9.0 {
		t.Errorf("Expected index total 9.0 USD. Got: %.4f", got)
	}
	if alert == nil || alert.USDAmount != 9.0 || alert.OperationType != models.OperationBuy {
		t.Errorf("Unexpected alert: %+v", alert)
	}
}

func TestClassify_SellPromotion(t *testing.T) {
	ts := int64(1700000200)
	store := newStore(candidate(2, "h-sell"))
	events := &fakeEvents{
		events: map[string]*models.Event{"h-sell": {
			EventID:   "ev-sell",
			Timestamp: ts,
			Actions: []models.EventAction{{
				Type: "JettonSwap",
				JettonSwap: &models.JettonSwapAction{
					TonOut:         2_000_000_000,
					AmountIn:       "100000000000",
					UserWallet:     models.AccountAddress{Address: userRaw},
					JettonMasterIn: models.AccountAddress{Address: trackedJetton},
				},
			}},
		}},
		chart: &models.ChartResponse{Points: [][2]float64{{float64(ts), 5.0}}},
	}

	c := New(store, events, newIndex(), 10, 0)
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(store.promoted) != 1 {
		t.Fatalf("Expected one promotion. Got: %d", len(store.promoted))
	}
	p := store.promoted[0]
	if p.OperationType != models.OperationSell || p.TonAmount != 2.0 || p.LamboAmount != 100.0 {
		t.Errorf("Unexpected sell promotion: %+v", p)
	}
	if usd := p.TonAmount * p.TonUSDPrice; usd != 10.0 {
		t.Errorf("Expected 10.0 USD. Got: %.4f", usd)
	}
}

func TestClassify_DiscardsNonSwapEvent(t *testing.T) {
	store := newStore(candidate(3, "h-transfer"))
	events := &fakeEvents{events: map[string]*models.Event{"h-transfer": {
		EventID:   "ev-transfer",
		Timestamp: 1700000300,
		Actions:   []models.EventAction{{Type: "JettonTransfer"}},
	}}}

	c := New(store, events, newIndex(), 10, 0)
	settled, err := c.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if settled != 1 || len(store.deleted) != 1 || store.deleted[0] != 3 {
		t.Errorf("Expected candidate 3 discarded. deleted=%v", store.deleted)
	}
	if len(store.promoted) != 0 {
		t.Error("Non-swap event must not promote")
	}
}

func TestClassify_DiscardsOtherJettonSwap(t *testing.T) {
	ev := buyEvent(1700000100)
	ev.Actions[0].JettonSwap.JettonMasterOut = models.AccountAddress{Address: otherJetton}
	store := newStore(candidate(4, "h-other"))
	events := &fakeEvents{events: map[string]*models.Event{"h-other": ev}}

	c := New(store, events, newIndex(), 10, 0)
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Error("A swap of an untracked jetton must be discarded")
	}
}

func TestClassify_DuplicateEventIDDiscards(t *testing.T) {
	store := newStore(candidate(5, "h-dup"))
	store.events["ev-buy"] = true
	events := &fakeEvents{events: map[string]*models.Event{"h-dup": buyEvent(1700000100)}}

	c := New(store, events, newIndex(), 10, 0)
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.promoted) != 0 {
		t.Error("A seen event_id must not promote again")
	}
	if len(store.deleted) != 1 {
		t.Error("The duplicate candidate must be discarded")
	}
}

func TestClassify_DuplicateContentDiscards(t *testing.T) {
	ts := int64(1700000100)
	store := newStore(candidate(6, "h-content"))
	store.content[contentKey{userRaw, 1.5, 250.0, ts}] = true
	events := &fakeEvents{events: map[string]*models.Event{"h-content": buyEvent(ts)}}

	c := New(store, events, newIndex(), 10, 0)
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.promoted) != 0 || len(store.deleted) != 1 {
		t.Errorf("Content duplicate must discard. promoted=%d deleted=%d",
			len(store.promoted), len(store.deleted))
	}
}

func TestClassify_MissingTimestampDiscards(t *testing.T) {
	ev := buyEvent(0)
	store := newStore(candidate(7, "h-nots"))
	events := &fakeEvents{events: map[string]*models.Event{"h-nots": ev}}

	c := New(store, events, newIndex(), 10, 0)
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.deleted) != 1 || len(store.promoted) != 0 {
		t.Error("An event without a timestamp must be discarded")
	}
}

func TestClassify_MissingUserWalletDiscards(t *testing.T) {
	ev := buyEvent(1700000100)
	ev.Actions[0].JettonSwap.UserWallet = models.AccountAddress{}
	store := newStore(candidate(8, "h-nouser"))
	events := &fakeEvents{events: map[string]*models.Event{"h-nouser": ev}}

	c := New(store, events, newIndex(), 10, 0)
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.deleted) != 1 || len(store.promoted) != 0 {
		t.Error("A swap without a user wallet must be discarded")
	}
}

func TestClassify_EmptyChartPricesAtZero(t *testing.T) {
	store := newStore(candidate(9, "h-noprice"))
	events := &fakeEvents{events: map[string]*models.Event{"h-noprice": buyEvent(1700000100)}}

	c := New(store, events, newIndex(), 10, 0)
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.promoted) != 1 || store.promoted[0].TonUSDPrice != 0.0 {
		t.Errorf("Expected promotion at price 0.0: %+v", store.promoted)
	}
}

func TestClassify_EventNotFoundDiscards(t *testing.T) {
	store := newStore(candidate(10, "h-gone"))
	events := &fakeEvents{errs: map[string]error{
		"h-gone": &tonapi.UpstreamError{StatusCode: http.StatusNotFound, Body: "event not found"},
	}}

	c := New(store, events, newIndex(), 10, 0)
	settled, err := c.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if settled != 1 || len(store.deleted) != 1 {
		t.Error("A 404 event must discard the candidate")
	}
}

func TestClassify_TransientErrorKeepsCandidate(t *testing.T) {
	store := newStore(candidate(11, "h-flaky"))
	events := &fakeEvents{errs: map[string]error{"h-flaky": errors.New("timeout")}}

	c := New(store, events, newIndex(), 10, 0)
	settled, err := c.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("Batch must not fail on one transient candidate: %v", err)
	}
	if settled != 0 || len(store.deleted) != 0 || len(store.promoted) != 0 {
		t.Error("A transient failure must leave the candidate queued")
	}
}

func TestClassify_UnknownWalletSkipsIndexUpdate(t *testing.T) {
	store := newStore(candidate(12, "h-unknown"))
	store.promoteResult = db.PromoteResult{Applied: true, WalletFound: false}
	events := &fakeEvents{
		events: map[string]*models.Event{"h-unknown": buyEvent(1700000100)},
		chart:  &models.ChartResponse{Points: [][2]float64{{1700000100, 6.0}}},
	}
	index := newIndex()

	var alerted bool
	c := New(store, events, index, 10, 0)
	c.SetAlertFunc(func(models.SwapAlert) { alerted = true })
	if _, err := c.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(index.upserts) != 0 {
		t.Error("An unknown wallet must not reach the ordered index")
	}
	if !alerted {
		t.Error("The alert still fires for unknown wallets")
	}
}

func TestClosestPrice(t *testing.T) {
	points := [][2]float64{
		{1700000000, 5.0},
		{1700000090, 6.0},
		{1700000250, 7.0},
	}
	if got := closestPrice(points, 1700000100); got != 6.0 {
		t.Errorf("Expected the nearest point's price 6.0. Got: %.4f", got)
	}
	if got := closestPrice(nil, 1700000100); got != 0.0 {
		t.Errorf("Empty chart must price at 0.0. Got: %.4f", got)
	}
}
