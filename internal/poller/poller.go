package poller

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Poller runs a function on a cron schedule until stopped. Runs never overlap; a tick
// arriving while the previous run is still busy is skipped.
type Poller struct {
	name   string
	cron   *cron.Cron
	job    cron.Job
	cancel context.CancelFunc
}

// Start schedules fn with a standard five field cron spec, e.g. "*/15 * * * *".
func Start(ctx context.Context, name string, spec string, fn func(ctx context.Context)) (*Poller, error) {
	ctx, cancel := context.WithCancel(ctx)
	logger := cron.PrintfLogger(log.WithField("poller", name))
	chain := cron.NewChain(cron.SkipIfStillRunning(logger), cron.Recover(logger))

	p := &Poller{
		name:   name,
		cron:   cron.New(cron.WithLogger(logger)),
		job:    chain.Then(cron.FuncJob(func() { fn(ctx) })),
		cancel: cancel,
	}
	if _, err := p.cron.AddJob(spec, p.job); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid poll schedule %q for %s: %w", spec, name, err)
	}
	p.cron.Start()
	log.Infof("Polling %s on schedule %q", name, spec)
	return p, nil
}

// Stop cancels a running poll and waits for it to return.
func (p *Poller) Stop() {
	p.cancel()
	<-p.cron.Stop().Done()
	log.Debugf("Stopped polling %s", p.name)
}
