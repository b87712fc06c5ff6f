package usecase

import (
	"sort"
	"strings"

	"SignalFuse/internal/domain/models"
	"SignalFuse/pkg/window"
)

// DefaultLedgerCapacity bounds the in-memory movement history.
const DefaultLedgerCapacity = 10_000

// MovementLedger is the append-only in-memory movement history. Records are
// stored by value and never modified; the oldest are evicted past capacity.
type MovementLedger struct {
	w *window.Window[models.Movement]
}

func NewMovementLedger(capacity int) *MovementLedger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	return &MovementLedger{w: window.New(capacity, func(m models.Movement) float64 { return m.Amount })}
}

func (l *MovementLedger) Append(m models.Movement) { l.w.Push(m) }

func (l *MovementLedger) Len() int { return l.w.Len() }

// Recent returns up to limit movements, newest first. limit <= 0 returns all.
func (l *MovementLedger) Recent(limit int) []models.Movement {
	all := l.w.All()
	sortNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ByCorrelationKey returns movements whose key equals key (case-insensitive), newest first.
func (l *MovementLedger) ByCorrelationKey(key string) []models.Movement {
	var out []models.Movement
	for _, m := range l.w.All() {
		if strings.EqualFold(m.CorrelationKey, key) {
			out = append(out, m)
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(ms []models.Movement) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Timestamp.After(ms[j].Timestamp) })
}
