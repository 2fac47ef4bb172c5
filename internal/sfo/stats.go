package sfo

import "sync"

// Stats are the pipeline counters exposed to front ends.
type Stats struct {
	Processed  int64 `json:"processed"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Duplicates int64 `json:"duplicates"`
	Sensitive  int64 `json:"sensitive"`
}

type statCounter struct {
	mu sync.Mutex
	s  Stats
}

func (c *statCounter) update(fn func(s *Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.s)
}

func (c *statCounter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
