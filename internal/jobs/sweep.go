package jobs

import "github.com/sirupsen/logrus"

// Sweeper drops expired entries. The in-memory cache implements it; Redis
// expires keys itself.
type Sweeper interface {
	Sweep() int
}

type CacheSweepTask struct {
	cache    Sweeper
	schedule string
}

func NewCacheSweepTask(schedule string, c Sweeper) *CacheSweepTask {
	return &CacheSweepTask{cache: c, schedule: schedule}
}

func (c *CacheSweepTask) ID() string {
	return "cache_sweep"
}

func (c *CacheSweepTask) Schedule() string {
	return c.schedule
}

func (c *CacheSweepTask) Run() {
	if n := c.cache.Sweep(); n > 0 {
		logrus.Debugf("cache sweep dropped %d expired entries", n)
	}
}
