package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

// Simulated moves in a straight line from From to To over Steps fixes,
// one every Interval, then keeps reporting To.
type Simulated struct {
	From     utils.Point
	To       utils.Point
	Steps    int
	Interval time.Duration
	Accuracy float64
}

func (s Simulated) Watch(ctx context.Context) (Watch, error) {
	steps := s.Steps
	if steps < 1 {
		steps = 1
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &simWatch{fixes: make(chan Fix), errs: make(chan error), cancel: cancel}
	go func() {
		defer close(w.fixes)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			at := s.To
			if i < steps {
				frac := float64(i) / float64(steps)
				at = utils.Point{
					Lat: s.From.Lat + (s.To.Lat-s.From.Lat)*frac,
					Lng: s.From.Lng + (s.To.Lng-s.From.Lng)*frac,
				}
			}
			fix := Fix{Lat: at.Lat, Lng: at.Lng, Accuracy: s.Accuracy, At: time.Now()}
			select {
			case w.fixes <- fix:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return w, nil
}

type simWatch struct {
	fixes  chan Fix
	errs   chan error
	cancel context.CancelFunc
	once   sync.Once
}

func (w *simWatch) Fixes() <-chan Fix   { return w.fixes }
func (w *simWatch) Errors() <-chan error { return w.errs }
func (w *simWatch) Stop()                { w.once.Do(w.cancel) }
