package speedtest

import (
	"errors"
	"strings"
)

// Kind is the routine kind handled by this package.
const Kind = "speedtest"

// Config is the "speedtest" routine config.
//
// Example:
//
//	config: {server_count: 5, history_file: ./data/speedtest.jsonl, min_download_mbps: 50}
type Config struct {
	// Candidate servers to ping (nearest first).
	ServerCount int `json:"server_count,omitempty"`
	// Lowest-latency servers that get a full download/upload test.
	FullTestServers int  `json:"full_test_servers,omitempty"`
	MaxConnections  int  `json:"max_connections,omitempty"`
	SavingMode      bool `json:"saving_mode,omitempty"`

	// HistoryFile keeps results as JSON lines; empty disables history.
	HistoryFile       string `json:"history_file,omitempty"`
	HistoryMaxRecords int    `json:"history_max_records,omitempty"`

	// A cycle fails when the measured download falls below this value.
	MinDownloadMbps float64 `json:"min_download_mbps,omitempty"`
}

func (c *Config) normalize() error {
	var errs []error
	if c.ServerCount < 0 || c.FullTestServers < 0 || c.MaxConnections < 0 || c.HistoryMaxRecords < 0 {
		errs = append(errs, errors.New("server_count, full_test_servers, max_connections, history_max_records: must be >= 0"))
	}
	if c.MinDownloadMbps < 0 {
		errs = append(errs, errors.New("min_download_mbps: must be >= 0"))
	}
	if c.ServerCount == 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers == 0 {
		c.FullTestServers = 1
	}
	if c.FullTestServers > c.ServerCount {
		c.FullTestServers = c.ServerCount
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 4
	}
	if c.HistoryMaxRecords == 0 {
		c.HistoryMaxRecords = defaultHistoryMaxRecords
	}
	c.HistoryFile = strings.TrimSpace(c.HistoryFile)
	return errors.Join(errs...)
}
