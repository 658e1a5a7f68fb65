package models

import "time"

// OperationType values for a classified swap.
const (
	OperationBuy  = "buy"
	OperationSell = "sell"
)

// Wallet sync states. A wallet starts pending, the reconciler moves it
// through syncing to synced once its historical totals are computed.
const (
	SyncPending = "pending"
	SyncSyncing = "syncing"
	SyncSynced  = "synced"
)

// Pool is an on-chain liquidity contract the indexer tracks. LastProcessedLT
// is the per-pool checkpoint: the largest logical time already persisted as a
// candidate. Zero means the pool has never been backfilled.
type Pool struct {
	ID                int64  `json:"id"`
	Address           string `json:"address"` // raw form, workchain:hex64
	Name              string `json:"name"`
	JettonMaster      string `json:"jettonMaster"` // tracked asset master, raw form
	LastProcessedLT   uint64 `json:"lastProcessedLt"`
	LastSyncTimestamp int64  `json:"lastSyncTimestamp"`
	IsActive          bool   `json:"isActive"`
}

// Transaction is a single row in the candidate/classified store. Until the
// classifier runs, only TxHash, LT, Timestamp and PoolID are set. Promotion
// fills the swap fields and flips IsProcessed; the row is immutable after.
type Transaction struct {
	ID            int64   `json:"id"`
	TxHash        string  `json:"txHash"`
	EventID       string  `json:"eventId,omitempty"` // upstream dedup key
	LT            uint64  `json:"lt"`
	Timestamp     int64   `json:"timestamp"` // unix seconds
	PoolID        int64   `json:"poolId"`
	UserAddress   string  `json:"userAddress,omitempty"` // raw form
	OperationType string  `json:"operationType,omitempty"`
	TonAmount     float64 `json:"tonAmount,omitempty"`
	LamboAmount   float64 `json:"lamboAmount,omitempty"`
	TonUSDPrice   float64 `json:"tonUsdPrice,omitempty"`
	IsProcessed   bool    `json:"isProcessed"`
}

// Wallet is an end-user address with its running volume totals in the three
// unit systems. Wallets are never deleted, only deactivated.
type Wallet struct {
	ID      int64  `json:"id"`
	UserID  *int64 `json:"userId,omitempty"`
	Address string `json:"address"` // raw form, unique
	Label   string `json:"label,omitempty"`

	CountBuys  int `json:"countBuys"`
	CountSells int `json:"countSells"`

	BuyVolumeLambo   float64 `json:"buyVolumeLambo"`
	SellVolumeLambo  float64 `json:"sellVolumeLambo"`
	TotalVolumeLambo float64 `json:"totalVolumeLambo"`

	BuyVolumeTon   float64 `json:"buyVolumeTon"`
	SellVolumeTon  float64 `json:"sellVolumeTon"`
	TotalVolumeTon float64 `json:"totalVolumeTon"`

	BuyVolumeUSD   float64 `json:"buyVolumeUsd"`
	SellVolumeUSD  float64 `json:"sellVolumeUsd"`
	TotalVolumeUSD float64 `json:"totalVolumeUsd"`

	SyncStatus           string    `json:"syncStatus"`
	InitialSyncCompleted bool      `json:"initialSyncCompleted"`
	CreatedAt            time.Time `json:"createdAt"`
	IsActive             bool      `json:"isActive"`
}

// AccountTx is one entry of GET /v2/blockchain/accounts/{addr}/transactions.
type AccountTx struct {
	Hash  string `json:"hash"`
	LT    uint64 `json:"lt"`
	UTime int64  `json:"utime"`
}

// TxPage is a newest-first page of account transactions.
type TxPage struct {
	Transactions []AccountTx `json:"transactions"`
}

// AccountAddress wraps an address-bearing object in upstream payloads.
type AccountAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// JettonSwapAction is the payload of a "JettonSwap" action. TonIn/TonOut are
// native-token nano amounts; AmountIn/AmountOut are decimal strings in jetton
// minor units (too large for a float on the wire).
type JettonSwapAction struct {
	TonIn           uint64         `json:"ton_in"`
	TonOut          uint64         `json:"ton_out"`
	AmountIn        string         `json:"amount_in"`
	AmountOut       string         `json:"amount_out"`
	UserWallet      AccountAddress `json:"user_wallet"`
	JettonMasterIn  AccountAddress `json:"jetton_master_in"`
	JettonMasterOut AccountAddress `json:"jetton_master_out"`
}

// EventAction is one action inside an event tree.
type EventAction struct {
	Type       string            `json:"type"`
	JettonSwap *JettonSwapAction `json:"JettonSwap,omitempty"`
}

// Event is the response of GET /v2/events/{tx_hash}.
type Event struct {
	EventID   string        `json:"event_id"`
	Timestamp int64         `json:"timestamp"`
	Actions   []EventAction `json:"actions"`
}

// ChartResponse is the response of GET /v2/rates/chart: points are
// [timestamp, price] pairs.
type ChartResponse struct {
	Points [][2]float64 `json:"points"`
}

// StreamEvent is one SSE data line from the account transaction stream.
type StreamEvent struct {
	EventID   string `json:"event_id"`
	LT        uint64 `json:"lt"`
	Timestamp int64  `json:"timestamp"`
	AccountID string `json:"account_id"`
}

// SwapAlert is the real-time payload broadcast to websocket clients when the
// classifier promotes a swap.
type SwapAlert struct {
	TxHash        string  `json:"txHash"`
	UserAddress   string  `json:"userAddress"`
	OperationType string  `json:"operationType"`
	TonAmount     float64 `json:"tonAmount"`
	LamboAmount   float64 `json:"lamboAmount"`
	USDAmount     float64 `json:"usdAmount"`
	TonUSDPrice   float64 `json:"tonUsdPrice"`
	Timestamp     int64   `json:"timestamp"`
}

// VolumeUpdate is one aggregator delta produced by a classified swap.
type VolumeUpdate struct {
	Address       string
	OperationType string
	TonAmount     float64
	LamboAmount   float64
	USDAmount     float64
}

// VolumeTotals is an absolute recomputation of a wallet's totals, produced by
// the late-join reconciler.
type VolumeTotals struct {
	CountBuys  int
	CountSells int
	BuyLambo   float64
	SellLambo  float64
	BuyTon     float64
	SellTon    float64
	BuyUSD     float64
	SellUSD    float64
}

// TotalLambo returns buy + sell in tracked-asset units.
func (v VolumeTotals) TotalLambo() float64 { return v.BuyLambo + v.SellLambo }

// TotalTon returns buy + sell in native-token units.
func (v VolumeTotals) TotalTon() float64 { return v.BuyTon + v.SellTon }

// TotalUSD returns buy + sell in fiat.
func (v VolumeTotals) TotalUSD() float64 { return v.BuyUSD + v.SellUSD }
