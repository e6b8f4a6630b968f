package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepThreshold を超えたら期限切れのエントリを掃除します。バックグラウンド処理は持ちません。
const sweepThreshold = 10000

type window struct {
	start  time.Time
	window time.Duration
	count  int
}

// MemoryStore はプロセス内のカウンタ表です。
// 時刻は time.Now のモノトニック成分で比較するため、壁時計の変更でウィンドウは伸縮しません。
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Consume はキーのカウンタを cost だけ進め、上限を超えていれば拒否します。
// 経過時間がウィンドウ幅を超えていれば (now, cost) から数え直します。
func (s *MemoryStore) Consume(_ context.Context, key string, cost int, rule Rule) (Result, error) {
	if cost <= 0 {
		cost = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) > rule.Window {
		if len(s.windows) >= sweepThreshold {
			s.sweepLocked(now)
		}
		w = &window{start: now, window: rule.Window}
		s.windows[key] = w
	}
	w.count += cost

	return evaluate(w.count, rule, rule.Window-now.Sub(w.start)), nil
}

// Len は保持しているキーの数を返します。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, w := range s.windows {
		if now.Sub(w.start) > w.window {
			delete(s.windows, key)
		}
	}
}
