package speedtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "routined/pkg/logx"
)

// Marks records the time of the last good measurement. storage.Store
// satisfies it.
type Marks interface {
	PutMark(ctx context.Context, key string, at time.Time) error
}

type MeasureFunc func(ctx context.Context, cfg Config) (*Result, error)

type Option func(*Tester)

// WithMeasure replaces the network measurement.
func WithMeasure(fn MeasureFunc) Option {
	return func(t *Tester) { t.measure = fn }
}

// Tester runs one speed test per cycle.
type Tester struct {
	name    string
	cfg     Config
	history *History
	marks   Marks
	measure MeasureFunc
	log     logx.Logger
}

// New builds the tester for the routine called name. marks may be nil.
func New(name string, cfg Config, marks Marks, log logx.Logger, opts ...Option) (*Tester, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tester{name: name, cfg: cfg, marks: marks, measure: measure, log: log}
	if cfg.HistoryFile != "" {
		t.history = NewHistory(cfg.HistoryFile, cfg.HistoryMaxRecords)
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t, nil
}

func (t *Tester) History() *History { return t.history }

func (t *Tester) Run(ctx context.Context) error {
	res, err := t.measure(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("speedtest: %w", err)
	}
	res.ID = uuid.NewString()

	t.log.Info("speedtest finished",
		logx.Float64("download_mbps", res.DownloadMbps),
		logx.Float64("upload_mbps", res.UploadMbps),
		logx.Float64("ping_ms", res.PingMs),
		logx.String("server", res.ServerName),
		logx.String("isp", res.ISP),
		logx.Duration("took", res.Took),
	)
	if t.history != nil {
		if err := t.history.Append(*res); err != nil {
			t.log.Warn("speedtest history append failed", logx.Err(err))
		}
	}

	if t.cfg.MinDownloadMbps > 0 && res.DownloadMbps < t.cfg.MinDownloadMbps {
		return fmt.Errorf("download %.1f Mbps below minimum %.1f Mbps", res.DownloadMbps, t.cfg.MinDownloadMbps)
	}
	if t.marks != nil {
		if err := t.marks.PutMark(ctx, Kind+":"+t.name, res.Timestamp); err != nil {
			t.log.Warn("speedtest mark failed", logx.Err(err))
		}
	}
	return nil
}
