package main

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"

	"gearplanner/internal/build"
	"gearplanner/internal/catalog"
	"gearplanner/internal/coordinator"
	"gearplanner/internal/importer"
	"gearplanner/internal/slots"
)

const (
	defaultSearchLimit = 50
	maxImportBytes     = 1 << 20
)

// newServer builds the HTTP API. The websocket bridge is mounted at /ws
// when browser clients are served.
func (a *App) newServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			a.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	api := e.Group("/api")
	api.GET("/slots", a.handleSlots)
	api.GET("/items", a.handleItems)
	api.GET("/build", a.handleBuild)
	api.PUT("/build/slots/:slot", a.handleEquip)
	api.DELETE("/build/slots/:slot", a.handleUnequip)
	api.PUT("/build/classes", a.handleClasses)
	api.POST("/build/reset", a.handleReset)
	api.POST("/import", a.handleImport)
	api.GET("/fragment", a.handleFragment)
	api.PUT("/fragment", a.handleSetFragment)
	api.GET("/status", a.handleStatus)

	if a.bridge != nil {
		e.GET("/ws", echo.WrapHandler(a.bridge))
	}
	return e
}

type slotResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Position  int    `json:"position"`
	ChunkType string `json:"chunkType"`
}

func (a *App) handleSlots(c echo.Context) error {
	out := lo.Map(slots.All(), func(s slots.Slot, _ int) slotResponse {
		return slotResponse{ID: s.ID, Label: s.Label, Position: s.Position, ChunkType: s.ChunkType}
	})
	return c.JSON(http.StatusOK, out)
}

// slotType resolves a slot id, augment key or bare catalog type
func slotType(param string) string {
	if _, _, ok := slots.SplitAugmentKey(param); ok {
		return slots.AugmentChunkType
	}
	if s, ok := slots.ByID(param); ok {
		return s.ChunkType
	}
	if byLabel := slots.ByLabel(param); len(byLabel) > 0 {
		return byLabel[0].ChunkType
	}
	return strings.ToLower(param)
}

func (a *App) handleItems(c echo.Context) error {
	q := catalog.Query{
		SlotType: slotType(c.QueryParam("slot")),
		Text:     c.QueryParam("q"),
		Limit:    defaultSearchLimit,
	}
	if classes := c.QueryParam("classes"); classes != "" {
		q.Classes = strings.Split(classes, ",")
	} else {
		st := a.session.State()
		q.Classes = st.Classes[:]
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		q.Limit = n
	}

	if q.SlotType != "" {
		if err := a.catalog.Prefetch(c.Request().Context(), q.SlotType, q.Text); err != nil {
			a.logger.Debug("prefetch interrupted", "error", err)
		}
	}
	return c.JSON(http.StatusOK, a.catalog.Search(q))
}

func (a *App) handleBuild(c echo.Context) error {
	return c.JSON(http.StatusOK, a.buildView(a.session.State()))
}

type equipRequest struct {
	ItemID int `json:"itemId"`
}

func (a *App) handleEquip(c echo.Context) error {
	var req equipRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.ItemID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "itemId must be positive")
	}
	if err := a.session.Equip(c.Param("slot"), req.ItemID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return a.handleBuild(c)
}

func (a *App) handleUnequip(c echo.Context) error {
	if err := a.session.Equip(c.Param("slot"), 0); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return a.handleBuild(c)
}

type classesRequest struct {
	Classes []string `json:"classes"`
}

func (a *App) handleClasses(c echo.Context) error {
	var req classesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(req.Classes) > build.MaxClasses {
		return echo.NewHTTPError(http.StatusBadRequest, "at most 3 classes")
	}
	var classes [build.MaxClasses]string
	copy(classes[:], lo.Map(req.Classes, func(s string, _ int) string {
		return strings.ToUpper(strings.TrimSpace(s))
	}))
	a.session.SetClasses(classes)
	return a.handleBuild(c)
}

func (a *App) handleReset(c echo.Context) error {
	a.session.Reset()
	return a.handleBuild(c)
}

type importResponse struct {
	Queued  int                      `json:"queued"`
	Chunks  []int                    `json:"chunks"`
	Classes [build.MaxClasses]string `json:"classes"`
	Skipped int                      `json:"skipped"`
	State   string                   `json:"state"`
}

func (a *App) handleImport(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(body) > maxImportBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "export too large")
	}

	res := importer.Parse(string(body), a.index)
	st := a.coord.Register(a.ctx, coordinator.Pending{
		Source:   coordinator.SourceImport,
		Entries:  res.Queue,
		ChunkIDs: res.ChunkIDs,
		Classes:  res.Classes,
	})
	a.logger.Info("inventory imported",
		"queued", len(res.Queue),
		"chunks", res.ChunkIDs,
		"classes", res.Classes,
		"skipped", res.Skipped,
	)
	return c.JSON(http.StatusAccepted, importResponse{
		Queued:  len(res.Queue),
		Chunks:  res.ChunkIDs,
		Classes: res.Classes,
		Skipped: res.Skipped,
		State:   st.String(),
	})
}

type fragmentBody struct {
	Fragment string `json:"fragment"`
	Rendered string `json:"rendered,omitempty"`
}

func (a *App) handleFragment(c echo.Context) error {
	return c.JSON(http.StatusOK, fragmentBody{
		Fragment: a.location.Fragment(),
		Rendered: a.hashSync.Render(a.session.State()),
	})
}

// handleSetFragment accepts a fragment from clients without a websocket
func (a *App) handleSetFragment(c echo.Context) error {
	var req fragmentBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Fragment == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "fragment is required")
	}
	a.onFragment(req.Fragment)
	return c.JSON(http.StatusAccepted, map[string]string{"state": a.coord.State().String()})
}

func (a *App) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, a.GetLoadStatus())
}
