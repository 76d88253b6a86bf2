package speedtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
	"golang.org/x/sync/errgroup"
)

// Result is one measurement. JSON tags are the history file format.
type Result struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	DownloadMbps  float64       `json:"download_mbps"`
	UploadMbps    float64       `json:"upload_mbps"`
	PingMs        float64       `json:"ping_ms"`
	JitterMs      float64       `json:"jitter_ms"`
	ISP           string        `json:"isp"`
	ServerName    string        `json:"server_name"`
	ServerCountry string        `json:"server_country"`
	Took          time.Duration `json:"took"`
}

type serverResult struct {
	server   *st.Server
	download float64
	upload   float64
	ping     time.Duration
}

// measure picks the nearest servers, pings them concurrently and runs full
// tests on the fastest. Download and upload are averaged across full tests.
func measure(ctx context.Context, cfg Config) (*Result, error) {
	start := time.Now()
	client := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     cfg.SavingMode,
		MaxConnections: cfg.MaxConnections,
	}))
	client.SetNThread(cfg.MaxConnections)
	defer func() {
		client.Snapshots().Clean()
		client.Reset()
	}()

	user, err := client.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidates := servers[:min(cfg.ServerCount, len(servers))]

	pinged := pingAll(ctx, candidates, cfg.MaxConnections)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	var full []serverResult
	for _, s := range pinged[:min(cfg.FullTestServers, len(pinged))] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			continue
		}
		full = append(full, serverResult{server: s, download: s.DLSpeed.Mbps(), upload: s.ULSpeed.Mbps(), ping: s.Latency})
		client.Snapshots().Clean()
	}
	if len(full) == 0 {
		return nil, errors.New("full test failed for all servers")
	}

	avg := average(full)
	best := fastest(full)
	return &Result{
		Timestamp:     time.Now(),
		DownloadMbps:  avg.download,
		UploadMbps:    avg.upload,
		PingMs:        float64(avg.ping.Microseconds()) / 1000,
		JitterMs:      float64(best.server.Jitter.Microseconds()) / 1000,
		ISP:           user.Isp,
		ServerName:    best.server.Sponsor,
		ServerCountry: best.server.Country,
		Took:          time.Since(start),
	}, nil
}

func pingAll(ctx context.Context, servers []*st.Server, limit int) []*st.Server {
	var (
		g  errgroup.Group
		mu sync.Mutex
		ok []*st.Server
	)
	g.SetLimit(max(limit, 1))
	for _, s := range servers {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return nil
			}
			mu.Lock()
			ok = append(ok, s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return ok
}

func average(rs []serverResult) serverResult {
	if len(rs) == 0 {
		return serverResult{}
	}
	var out serverResult
	for _, r := range rs {
		out.download += r.download
		out.upload += r.upload
		out.ping += r.ping
	}
	n := len(rs)
	out.download /= float64(n)
	out.upload /= float64(n)
	out.ping /= time.Duration(n)
	return out
}

// fastest prefers lower ping, then higher download.
func fastest(rs []serverResult) serverResult {
	best := rs[0]
	for _, r := range rs[1:] {
		if r.ping < best.ping || (r.ping == best.ping && r.download > best.download) {
			best = r
		}
	}
	return best
}
