package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

// ErrNoCredentials is returned when the pool has no slots at all.
var ErrNoCredentials = errors.New("no credentials configured")

// Slot is one credential in the rotation pool. A slot is either
// available or cooling down until ResetAt; it re-activates on its own
// once wall-clock time passes ResetAt.
type Slot struct {
	ID        string     `json:"id"`
	Usage     int64      `json:"usage"`
	Available bool       `json:"available"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`

	key string
}

// Credential is what callers receive from NextSlot: the slot identity
// for later Mark* calls plus the secret to authenticate with.
type Credential struct {
	SlotID string
	Key    string
}

// SnapshotStore persists pool state so a restart resumes with accurate
// usage and rate-limit state instead of re-triggering providers that
// are still limited.
type SnapshotStore interface {
	Save(ctx context.Context, slots []Slot) error
	Load(ctx context.Context) ([]Slot, error)
}

// Pool is the process-wide credential rotation pool. All slot state is
// guarded by one mutex; at most one slot is current at a time.
type Pool struct {
	mu        sync.Mutex
	slots     []*Slot
	cursor    int
	cooldown  time.Duration
	snapshots SnapshotStore
	logger    *log.Logger
	now       func() time.Time
}

// NewPool builds a pool from the configured API keys. Slot identifiers
// are derived from the key digest so persisted state survives config
// reordering without ever storing the secret.
func NewPool(keys []string, cooldown time.Duration, snapshots SnapshotStore, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.New(log.Writer(), "[POOL] ", log.LstdFlags)
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	p := &Pool{cooldown: cooldown, snapshots: snapshots, logger: logger, now: time.Now}
	for _, key := range keys {
		if key == "" {
			continue
		}
		p.slots = append(p.slots, &Slot{ID: slotID(key), Available: true, key: key})
	}
	return p
}

func slotID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// Restore merges persisted slot state into the pool. Unknown persisted
// slots (removed credentials) are dropped; new credentials start fresh.
func (p *Pool) Restore(ctx context.Context) error {
	if p.snapshots == nil {
		return nil
	}
	saved, err := p.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credential snapshot: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	byID := make(map[string]Slot, len(saved))
	for _, s := range saved {
		byID[s.ID] = s
	}
	for _, slot := range p.slots {
		s, ok := byID[slot.ID]
		if !ok {
			continue
		}
		slot.Usage = s.Usage
		slot.Available = s.Available
		slot.ResetAt = s.ResetAt
	}
	return nil
}

// NextSlot returns the first available slot in rotation order,
// re-activating slots whose reset time has passed. When every slot is
// rate-limited it returns the slot with the earliest reset time
// (ties broken by slot index) as a best-effort last resort.
func (p *Pool) NextSlot(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) == 0 {
		return Credential{}, ErrNoCredentials
	}
	now := p.now()
	changed := false
	for _, slot := range p.slots {
		if !slot.Available && slot.ResetAt != nil && !now.Before(*slot.ResetAt) {
			slot.Available = true
			slot.ResetAt = nil
			changed = true
		}
	}
	var chosen *Slot
	for i := 0; i < len(p.slots); i++ {
		idx := (p.cursor + i) % len(p.slots)
		if p.slots[idx].Available {
			chosen = p.slots[idx]
			p.cursor = idx
			break
		}
	}
	if chosen == nil {
		// All limited: earliest reset wins, lower index on ties.
		for _, slot := range p.slots {
			if chosen == nil {
				chosen = slot
				continue
			}
			if slot.ResetAt != nil && (chosen.ResetAt == nil || slot.ResetAt.Before(*chosen.ResetAt)) {
				chosen = slot
			}
		}
	}
	if changed {
		p.persistLocked(ctx)
	}
	return Credential{SlotID: chosen.ID, Key: chosen.key}, nil
}

// MarkRateLimited takes a slot out of rotation until resetAfter has
// elapsed. A zero resetAfter falls back to the configured cool-down.
func (p *Pool) MarkRateLimited(ctx context.Context, id string, resetAfter time.Duration) {
	if resetAfter <= 0 {
		resetAfter = p.cooldown
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if slot.ID != id {
			continue
		}
		resetAt := p.now().Add(resetAfter)
		slot.Available = false
		slot.ResetAt = &resetAt
		p.logger.Printf("slot %s rate limited until %s", id, resetAt.Format(time.RFC3339))
		break
	}
	p.persistLocked(ctx)
}

// MarkSuccess records a successful call against the slot's usage
// counter.
func (p *Pool) MarkSuccess(ctx context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if slot.ID == id {
			slot.Usage++
			break
		}
	}
	p.persistLocked(ctx)
}

// ResetUsage zeroes every slot's usage counter. Rate-limit state is
// untouched: a limited provider stays limited across the quota
// boundary until its own reset time passes.
func (p *Pool) ResetUsage(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		slot.Usage = 0
	}
	p.logger.Printf("usage counters reset for %d slots", len(p.slots))
	p.persistLocked(ctx)
}

// Size reports how many slots the pool holds.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Snapshot returns a copy of the current slot state.
func (p *Pool) Snapshot() []Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLocked()
}

// StartUsageResetLoop resets usage counters on the given cron spec
// (provider quotas typically renew daily) until ctx is cancelled.
func (p *Pool) StartUsageResetLoop(ctx context.Context, cronSpec string) error {
	if cronSpec == "" {
		cronSpec = "@daily"
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return fmt.Errorf("parse usage reset cron %q: %w", cronSpec, err)
	}
	go func() {
		for {
			next := expr.Next(p.now())
			if next.IsZero() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(next)):
				p.ResetUsage(ctx)
			}
		}
	}()
	return nil
}

func (p *Pool) copyLocked() []Slot {
	out := make([]Slot, len(p.slots))
	for i, slot := range p.slots {
		out[i] = *slot
		out[i].key = ""
	}
	return out
}

// persistLocked snapshots pool state after a transition. Persistence
// failures are logged, not returned: losing a snapshot must not fail
// the request that triggered it.
func (p *Pool) persistLocked(ctx context.Context) {
	if p.snapshots == nil {
		return
	}
	if err := p.snapshots.Save(ctx, p.copyLocked()); err != nil {
		p.logger.Printf("persist credential snapshot: %v", err)
	}
}
