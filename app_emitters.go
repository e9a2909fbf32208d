package main

import (
	"gearplanner/internal/build"
	"gearplanner/internal/coordinator"
	"gearplanner/internal/slots"
)

// SlotView is one slot of the build as sent to clients
type SlotView struct {
	Slot  string       `json:"slot"`
	Label string       `json:"label"`
	Main  *ItemView    `json:"main,omitempty"`
	Augs  [2]*ItemView `json:"augs"`
}

// ItemView is an assigned item. Name is empty while its chunk is not loaded.
type ItemView struct {
	ID     int    `json:"itemId"`
	Name   string `json:"name,omitempty"`
	IconID int    `json:"iconId,omitempty"`
}

// BuildView is the build as sent to clients
type BuildView struct {
	Slots    []SlotView               `json:"slots"`
	Classes  [build.MaxClasses]string `json:"classes"`
	Fragment string                   `json:"fragment"`
}

func (a *App) itemView(id int) *ItemView {
	if id == 0 {
		return nil
	}
	v := &ItemView{ID: id}
	if it, ok := a.catalog.Item(id); ok {
		v.Name = it.Name
		v.IconID = it.IconID
	}
	return v
}

// buildView renders state for clients
func (a *App) buildView(state build.State) BuildView {
	view := BuildView{
		Classes:  state.Classes,
		Fragment: a.hashSync.Render(state),
	}
	for _, slot := range slots.All() {
		as := state.Get(slot.ID)
		view.Slots = append(view.Slots, SlotView{
			Slot:  slot.ID,
			Label: slot.Label,
			Main:  a.itemView(as.Main),
			Augs:  [2]*ItemView{a.itemView(as.Augs[0]), a.itemView(as.Augs[1])},
		})
	}
	return view
}

// emitBuild is a session observer pushing every committed build to clients
func (a *App) emitBuild(state build.State, origin build.Origin) {
	a.emit("build:update", map[string]interface{}{
		"origin": origin.String(),
		"build":  a.buildView(state),
	})
}

// emitCoordinatorState reports coordinator transitions to clients
func (a *App) emitCoordinatorState(state coordinator.State) {
	a.emit("coordinator:state", map[string]interface{}{
		"state": state.String(),
	})
}

// emit broadcasts an event when browser clients are served
func (a *App) emit(event string, payload interface{}) {
	if a.bridge == nil {
		return
	}
	a.bridge.Emit(event, payload)
}
