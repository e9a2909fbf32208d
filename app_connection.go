package main

import (
	"time"

	"gearplanner/internal/coordinator"
)

// pollLoads drives the coordinator while it waits for chunks and reports
// catalog progress to clients
func (a *App) pollLoads() {
	ticker := time.NewTicker(a.cfg.Sync.PollInterval)
	defer ticker.Stop()

	lastGen := a.catalog.Generation()

	for {
		select {
		case <-a.stopPoll:
			return
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if gen := a.catalog.Generation(); gen != lastGen {
				lastGen = gen
				a.emit("catalog:progress", map[string]interface{}{
					"generation": gen,
					"chunks":     a.catalog.LoadedChunks(),
					"items":      len(a.catalog.Items()),
				})
			}

			if a.coord.State() != coordinator.Waiting {
				continue
			}
			if st := a.coord.Check(); st == coordinator.Waiting {
				a.logger.Debug("waiting for chunks",
					"unresolved", a.coord.Unresolved(),
					"retries", a.coord.Retries(),
				)
			}
		}
	}
}

// GetLoadStatus returns the coordinator and catalog status
func (a *App) GetLoadStatus() map[string]interface{} {
	return map[string]interface{}{
		"state":      a.coord.State().String(),
		"retries":    a.coord.Retries(),
		"unresolved": a.coord.Unresolved(),
		"chunks":     a.catalog.LoadedChunks(),
		"generation": a.catalog.Generation(),
	}
}
