package daemon

import (
	"context"
	"io"
	"log/slog"

	"git.home.luguber.info/inful/cascade/internal/daemon/events"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/model"
)

// startTriggerLoop evaluates downstream triggers for every finished build.
// Decisions that block a downstream are noted on the finished build's console.
func (d *Daemon) startTriggerLoop(ctx context.Context) {
	finished, unsubscribe := events.Subscribe[events.BuildFinished](d.bus, 64)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-finished:
				if !ok {
					return
				}
				d.onBuildFinished(ctx, ev.Build)
			}
		}
	}()
}

func (d *Daemon) onBuildFinished(ctx context.Context, b *model.Build) {
	if b == nil {
		return
	}
	var console io.Writer = io.Discard
	if w, err := d.logDir.OpenConsole(b); err != nil {
		slog.Warn("Cannot reopen console for trigger notes", logfields.BuildID(b.ID()), logfields.Error(err))
	} else {
		console = w
		defer func() { _ = w.Close() }()
	}

	for _, o := range d.dispatcher.OnBuildCompleted(ctx, b, console) {
		slog.Debug("Trigger evaluated",
			logfields.Upstream(b.ID()),
			logfields.Downstream(o.Downstream),
			logfields.Rule(string(o.Decision.Rule)),
			"enqueued", o.Enqueued)
	}
}
