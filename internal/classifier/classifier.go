// Package classifier turns candidate transactions into classified swaps:
// it resolves each candidate's event, matches the swap against the pool's
// tracked jetton, prices it, and promotes or discards the row.
package classifier

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tonscope/lambo-indexer/internal/db"
	"github.com/tonscope/lambo-indexer/internal/tonaddr"
	"github.com/tonscope/lambo-indexer/internal/tonapi"
	"github.com/tonscope/lambo-indexer/pkg/models"
)

const (
	nano        = 1e9
	priceWindow = 300 // seconds each side of the event timestamp
	pricePoints = 10
)

// Store is the persistence surface the classifier reads and promotes through.
type Store interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]models.Transaction, error)
	DeleteCandidate(ctx context.Context, id int64) error
	HasClassifiedEvent(ctx context.Context, eventID string) (bool, error)
	HasClassifiedContent(ctx context.Context, userAddress string, tonAmount, lamboAmount float64, timestamp int64) (bool, error)
	PromoteSwap(ctx context.Context, p db.Promotion) (db.PromoteResult, error)
	GetPoolByID(ctx context.Context, id int64) (*models.Pool, error)
}

// Events is the upstream lookup surface.
type Events interface {
	GetEvent(ctx context.Context, txHash string) (*models.Event, error)
	GetPriceChart(ctx context.Context, token, currency string, start, end int64, points int) (*models.ChartResponse, error)
}

// Index receives fiat totals for the ordered leaderboard.
type Index interface {
	Upsert(ctx context.Context, address string, totalUSD float64) error
}

// AlertFunc is invoked after each promoted swap, outside any transaction.
type AlertFunc func(models.SwapAlert)

// Classifier drains the candidate queue in timestamp order. Batches are
// serialized by an internal mutex so overlapping ticks never double-process.
type Classifier struct {
	store     Store
	events    Events
	index     Index
	alertFunc AlertFunc

	batchSize int
	pace      time.Duration // delay between candidates, 1/R

	mu sync.Mutex
}

func New(store Store, events Events, index Index, batchSize int, pace time.Duration) *Classifier {
	return &Classifier{
		store:     store,
		events:    events,
		index:     index,
		batchSize: batchSize,
		pace:      pace,
	}
}

// SetAlertFunc registers the post-promotion broadcast callback.
func (c *Classifier) SetAlertFunc(fn AlertFunc) {
	c.alertFunc = fn
}

// ProcessBatch classifies up to one batch of candidates and returns how many
// rows it settled (promoted or discarded). Zero with a nil error means the
// queue is empty.
func (c *Classifier) ProcessBatch(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch, err := c.store.FetchUnprocessed(ctx, c.batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	pools := make(map[int64]*models.Pool)
	settled := 0
	for i, tx := range batch {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if i > 0 && c.pace > 0 {
			select {
			case <-ctx.Done():
				return settled, ctx.Err()
			case <-time.After(c.pace):
			}
		}

		pool, ok := pools[tx.PoolID]
		if !ok {
			pool, err = c.store.GetPoolByID(ctx, tx.PoolID)
			if err != nil {
				log.Printf("[Classifier] Candidate %s: pool %d lookup failed: %v", tx.TxHash, tx.PoolID, err)
				continue
			}
			pools[tx.PoolID] = pool
		}

		done, err := c.classify(ctx, tx, pool)
		if err != nil {
			// Transient: the candidate stays queued for the next batch.
			log.Printf("[Classifier] Candidate %s: %v", tx.TxHash, err)
			continue
		}
		if done {
			settled++
		}
	}
	return settled, nil
}

// classify settles one candidate. It returns (true, nil) when the row was
// promoted or discarded, (false, err) when the decision must be retried.
func (c *Classifier) classify(ctx context.Context, tx models.Transaction, pool *models.Pool) (bool, error) {
	event, err := c.events.GetEvent(ctx, tx.TxHash)
	if err != nil {
		var upstream *tonapi.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
			// The hash will never resolve to an event.
			return true, c.discard(ctx, tx, "event not found")
		}
		return false, err
	}

	swap := findSwapAction(event, pool.JettonMaster)
	if swap == nil {
		return true, c.discard(ctx, tx, "no tracked swap action")
	}
	if event.Timestamp == 0 {
		return true, c.discard(ctx, tx, "event missing timestamp")
	}

	if event.EventID != "" {
		seen, err := c.store.HasClassifiedEvent(ctx, event.EventID)
		if err != nil {
			return false, err
		}
		if seen {
			return true, c.discard(ctx, tx, "event already classified")
		}
	}

	op, tonAmount, lamboAmount, ok := direction(swap)
	if !ok {
		return true, c.discard(ctx, tx, "unrecognized swap shape")
	}

	user := tonaddr.Normalize(swap.UserWallet.Address)
	if user == "" {
		return true, c.discard(ctx, tx, "missing user wallet")
	}

	dup, err := c.store.HasClassifiedContent(ctx, user, tonAmount, lamboAmount, event.Timestamp)
	if err != nil {
		return false, err
	}
	if dup {
		return true, c.discard(ctx, tx, "duplicate swap content")
	}

	price := c.priceAt(ctx, event.Timestamp)

	result, err := c.store.PromoteSwap(ctx, db.Promotion{
		TxID:          tx.ID,
		UserAddress:   user,
		EventID:       event.EventID,
		OperationType: op,
		TonAmount:     tonAmount,
		LamboAmount:   lamboAmount,
		TonUSDPrice:   price,
		Timestamp:     event.Timestamp,
	})
	if err != nil {
		return false, err
	}
	if !result.Applied {
		return true, nil // raced with a concurrent promotion
	}

	log.Printf("[Classifier] Promoted %s: %s %s %.4f TON / %.4f LAMBO @ %.4f",
		tx.TxHash, user, op, tonAmount, lamboAmount, price)

	if result.WalletFound {
		if err := c.index.Upsert(ctx, user, result.TotalUSD); err != nil {
			log.Printf("[Classifier] Leaderboard update failed for %s: %v", user, err)
		}
	}
	if c.alertFunc != nil {
		c.alertFunc(models.SwapAlert{
			TxHash:        tx.TxHash,
			UserAddress:   user,
			OperationType: op,
			TonAmount:     tonAmount,
			LamboAmount:   lamboAmount,
			USDAmount:     tonAmount * price,
			TonUSDPrice:   price,
			Timestamp:     event.Timestamp,
		})
	}
	return true, nil
}

func (c *Classifier) discard(ctx context.Context, tx models.Transaction, reason string) error {
	if err := c.store.DeleteCandidate(ctx, tx.ID); err != nil {
		return err
	}
	log.Printf("[Classifier] Discarded %s: %s", tx.TxHash, reason)
	return nil
}

// priceAt returns the TON/USD price closest to ts, or 0.0 when the chart has
// no points. A chart failure degrades to an unpriced swap rather than
// blocking classification.
func (c *Classifier) priceAt(ctx context.Context, ts int64) float64 {
	chart, err := c.events.GetPriceChart(ctx, "ton", "usd", ts-priceWindow, ts+priceWindow, pricePoints)
	if err != nil {
		log.Printf("[Classifier] Price chart unavailable at %d: %v", ts, err)
		return 0.0
	}
	return closestPrice(chart.Points, ts)
}

func closestPrice(points [][2]float64, ts int64) float64 {
	price := 0.0
	best := math.Inf(1)
	for _, p := range points {
		if d := math.Abs(p[0] - float64(ts)); d < best {
			best = d
			price = p[1]
		}
	}
	return price
}

// findSwapAction returns the first JettonSwap action whose in- or out-jetton
// is the pool's tracked master.
func findSwapAction(event *models.Event, jettonMaster string) *models.JettonSwapAction {
	tracked := tonaddr.Normalize(jettonMaster)
	for i := range event.Actions {
		action := event.Actions[i]
		if action.Type != "JettonSwap" || action.JettonSwap == nil {
			continue
		}
		swap := action.JettonSwap
		if tonaddr.Normalize(swap.JettonMasterIn.Address) == tracked ||
			tonaddr.Normalize(swap.JettonMasterOut.Address) == tracked {
			return swap
		}
	}
	return nil
}

// direction decides buy/sell from the swap's amount shape and converts both
// legs out of nano units. A shape matching neither side is not a tracked
// swap.
func direction(swap *models.JettonSwapAction) (op string, tonAmount, lamboAmount float64, ok bool) {
	switch {
	case swap.TonIn > 0 && swap.AmountOut != "":
		out, err := strconv.ParseFloat(swap.AmountOut, 64)
		if err != nil {
			return "", 0, 0, false
		}
		return models.OperationBuy, float64(swap.TonIn) / nano, out / nano, true
	case swap.TonOut > 0 && swap.AmountIn != "":
		in, err := strconv.ParseFloat(swap.AmountIn, 64)
		if err != nil {
			return "", 0, 0, false
		}
		return models.OperationSell, float64(swap.TonOut) / nano, in / nano, true
	}
	return "", 0, 0, false
}
