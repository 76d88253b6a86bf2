package restarter

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	logx "routined/pkg/logx"
)

type Option func(*Restarter)

// WithDialer replaces the backend selected by Config.Method.
func WithDialer(d Dialer) Option {
	return func(r *Restarter) { r.dial = d }
}

// Restarter restarts every configured unit once per cycle, paced by a rate
// limiter.
type Restarter struct {
	cfg     Config
	dial    Dialer
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Restarter, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Restarter{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:     log,
	}
	r.dial = dialerFor(cfg, log)
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r, nil
}

// Run restarts all units. A failed unit is logged and the rest still run;
// failures are returned joined.
func (r *Restarter) Run(ctx context.Context) error {
	units, err := r.cfg.units()
	if err != nil {
		return err
	}
	if len(units) == 0 {
		r.log.Warn("service list is empty")
		return nil
	}

	b, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var errs []error
	for _, unit := range units {
		if err := r.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		uctx, cancel := context.WithTimeout(ctx, r.cfg.unitTimeout)
		err := b.Restart(uctx, unit)
		cancel()
		if err != nil {
			r.log.Error("Failed to restart "+unit, logx.String("unit", unit), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", unit, err))
			continue
		}
		fields := []logx.Field{logx.String("unit", unit)}
		if sr, ok := b.(stateReporter); ok {
			if st, err := sr.ActiveState(ctx, unit); err == nil {
				fields = append(fields, logx.String("state", st))
			}
		}
		r.log.Info("Successfully restarted "+unit, fields...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d units failed: %w", len(errs), len(units), errors.Join(errs...))
	}
	return nil
}
