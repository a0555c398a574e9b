package engine

import "time"

// syncPolicy decides when a WAL append should be followed by a fsync,
// per the engine's configured WriteMode.
//
//   - SYNC: every append syncs.
//   - BATCH: syncs once pendingOps reaches batchSize, or once
//     batchIntervalMS has elapsed since the last sync — whichever first.
//   - ADAPTIVE: same as BATCH, but the effective batch size
//     (adaptiveBatchSize) grows to 4x the base under sustained high
//     throughput and relaxes back to the base once throughput drops,
//     re-evaluated once per sync rather than continuously.
type syncPolicy struct {
	mode            WriteMode
	batchSize       int
	batchIntervalMS int64

	pendingOps        int
	lastSyncTime      time.Time
	adaptiveBatchSize int
	fsyncCount        int64
}

func newSyncPolicy(cfg Config) *syncPolicy {
	return &syncPolicy{
		mode:              cfg.WriteMode,
		batchSize:         cfg.BatchSize,
		batchIntervalMS:   cfg.BatchIntervalMS,
		adaptiveBatchSize: cfg.BatchSize,
	}
}

// afterWALAppend is invoked once per WAL append (put or delete), after the
// record has been written to the buffered writer but before it is known to
// be durable. It increments the pending-op count and, depending on
// WriteMode, decides whether to sync now.
func (p *syncPolicy) afterWALAppend(wal *WAL) error {
	p.pendingOps++

	switch p.mode {
	case SyncMode:
		return p.syncNow(wal)
	case BatchMode:
		return p.maybeSync(wal, p.batchSize)
	case AdaptiveMode:
		return p.maybeSync(wal, p.adaptiveBatchSize)
	default:
		return p.syncNow(wal)
	}
}

// maybeSync syncs if pendingOps has reached threshold, or if more than
// batchIntervalMS has elapsed since the last sync.
func (p *syncPolicy) maybeSync(wal *WAL, threshold int) error {
	if p.pendingOps >= threshold {
		return p.syncNow(wal)
	}

	if p.lastSyncTime.IsZero() {
		return nil
	}

	interval := time.Duration(p.batchIntervalMS) * time.Millisecond
	if time.Since(p.lastSyncTime) > interval {
		return p.syncNow(wal)
	}
	return nil
}

// syncNow performs the actual sync and its bookkeeping side effects:
// measuring elapsed time since the previous sync, capturing the
// pre-sync pending count, invoking WAL.Sync, resetting counters, and
// — for ADAPTIVE mode — re-estimating throughput to retune
// adaptiveBatchSize for the *next* window.
func (p *syncPolicy) syncNow(wal *WAL) error {
	now := time.Now()

	var elapsed time.Duration
	haveElapsed := !p.lastSyncTime.IsZero()
	if haveElapsed {
		elapsed = now.Sub(p.lastSyncTime)
	}
	pending := p.pendingOps

	if err := wal.Sync(); err != nil {
		return err
	}

	p.fsyncCount++
	p.pendingOps = 0
	p.lastSyncTime = now

	if haveElapsed && elapsed > 0 && pending > 0 {
		qps := float64(pending) / elapsed.Seconds()
		p.updateAdaptiveBatchSize(qps)
	}
	return nil
}

// updateAdaptiveBatchSize implements the throughput bands from the spec:
// sustained high QPS widens the batch to cut fsync overhead, sustained low
// QPS narrows it back to the configured base for tighter durability.
// Moderate throughput leaves it unchanged — there is no reason to thrash
// the batch size on every sync.
func (p *syncPolicy) updateAdaptiveBatchSize(qps float64) {
	const (
		lowQPSBand     = 1_000
		highQPSBand    = 10_000
		highMultiplier = 4
	)

	switch {
	case qps >= highQPSBand:
		p.adaptiveBatchSize = p.batchSize * highMultiplier
	case qps <= lowQPSBand:
		p.adaptiveBatchSize = p.batchSize
	}
}
