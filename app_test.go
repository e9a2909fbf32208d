package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearplanner/internal/build"
	"gearplanner/internal/codec"
	"gearplanner/internal/config"
	"gearplanner/internal/coordinator"
	"gearplanner/internal/fragment"
	"gearplanner/internal/slots"
)

const testManifest = `[
  {"v1_chunk_head_aaa_zzz_0.json": 0},
  {"v1_chunk_aug_aaa_zzz_1.json": 1},
  {"v1_chunk_primary_aaa_zzz_2.json": 2},
  {"v1_chunk_chest_aaa_zzz_3.json": 3}
]`

var testChunks = map[string]string{
	"v1_chunk_head_aaa_zzz_0.json":    `[{"itemId": 101, "ItemName": "Cowl of Mortality", "SlotType": "Head", "CLASSES": "NEC,ROG", "iconId": 7}]`,
	"v1_chunk_aug_aaa_zzz_1.json":     `[{"itemId": 201, "ItemName": "Flawless Emerald", "SlotType": "Aug"}]`,
	"v1_chunk_primary_aaa_zzz_2.json": `[{"itemId": 11057, "ItemName": "Ragebringer", "SlotType": ["Primary", "Secondary"], "CLASSES": "ROG"}]`,
	"v1_chunk_chest_aaa_zzz_3.json":   `[{"itemId": 300, "ItemName": "Robe of the Ishva", "SlotType": "Chest"}]`,
}

const (
	headID    = "Head-0-1"
	chestID   = "Chest-1-0"
	primaryID = "Primary-7-0"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte(testManifest), 0o644))
	for name, body := range testChunks {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	cfg := config.Default()
	cfg.Catalog.Dir = dir
	cfg.Cache.Disabled = true
	cfg.Sync.Debounce = 10 * time.Millisecond
	cfg.Sync.PollInterval = 5 * time.Millisecond
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startApp(t *testing.T, loc *fragment.MemoryLocation) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	app := NewApp(testConfig(t), testLogger(), loc)
	require.NoError(t, app.startup(ctx))
	t.Cleanup(func() {
		cancel()
		app.shutdown()
	})
	return app
}

const testExport = "Location\tName\tID\tCount\tSlots\n" +
	"Head\tCowl of Mortality\t101\t1\t1\n" +
	"Head-Slot1\tFlawless Emerald\t201\t1\t0\n" +
	"Primary\tRagebringer\t11057\t1\t0\n" +
	"Chest\tPhantom Robe\t999\t1\t0\n"

func TestStartup_MissingManifest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Dir = t.TempDir()

	app := NewApp(cfg, testLogger(), fragment.NewMemoryLocation(""))
	err := app.startup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestRunImport(t *testing.T) {
	opts := &rootOptions{cfg: testConfig(t), logger: testLogger()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := runImport(ctx, opts, testExport)
	require.NoError(t, err)

	assert.Equal(t, coordinator.Applied.String(), out.State)
	assert.Equal(t, 4, out.Queued)
	assert.Equal(t, 3, out.Applied)
	assert.Equal(t, []string{chestID}, out.Dropped, "item missing from its chunk is pruned")
	assert.Equal(t, []int{0, 1, 2, 3}, out.Chunks)
	assert.Equal(t, "ROG", out.Classes[0])
	require.True(t, strings.HasPrefix(out.Fragment, "#build="), out.Fragment)

	// the written link carries the settled build and its chunks
	decoded := decodeLink("https://planner.example/" + out.Fragment)
	assert.False(t, decoded.Legacy)
	assert.Equal(t, []int{0, 1, 2}, decoded.Chunks)
	assert.Equal(t, "ROG", decoded.Classes[0])
	assert.Equal(t, []decodedSlot{
		{Slot: headID, Main: 101, Augs: [2]int{201, 0}},
		{Slot: primaryID, Main: 11057},
	}, decoded.Slots)
}

func TestRunImport_PrunesAfterFullRetryBound(t *testing.T) {
	opts := &rootOptions{cfg: testConfig(t), logger: testLogger()}
	opts.cfg.Sync.PollInterval = 20 * time.Millisecond

	// the chest chunk loads but never contains the item
	export := "Location\tName\tID\n" + "Chest\tPhantom Robe\t999\n"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	out, err := runImport(ctx, opts, export)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, coordinator.Applied.String(), out.State)
	assert.Equal(t, []string{chestID}, out.Dropped)
	minimum := time.Duration(coordinator.MaxRetries+1) * opts.cfg.Sync.PollInterval
	assert.GreaterOrEqual(t, elapsed, minimum, "each poll interval counts one retry")
}

func TestStartup_OpensInitialFragment(t *testing.T) {
	state := build.Empty()
	state.Set(headID, 101)
	state.Classes = [3]string{"NEC", "", ""}
	link := codec.FormatFragment(codec.Encode(state, []int{0}), state.Classes)

	loc := fragment.NewMemoryLocation(link)
	app := startApp(t, loc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.coord.Wait(ctx))

	got := app.session.State()
	assert.Equal(t, 101, got.Get(headID).Main)
	assert.Equal(t, "NEC", got.Classes[0])
	assert.Equal(t, 0, loc.Replaced(), "a build read from the link is not written back")
}

type httpFixture struct {
	t   *testing.T
	app *App
	srv http.Handler
}

func newHTTPFixture(t *testing.T) httpFixture {
	app := startApp(t, fragment.NewMemoryLocation(""))
	return httpFixture{t: t, app: app, srv: app.newServer()}
}

func (f httpFixture) do(method, target, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHTTP_Slots(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodGet, "/api/slots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[[]slotResponse](t, rec)
	require.Len(t, out, slots.Len())
	assert.Equal(t, "Ear-0-0", out[0].ID)
	assert.Equal(t, "fingers", out[16].ChunkType)
}

func TestHTTP_ItemsPrefetches(t *testing.T) {
	f := newHTTPFixture(t)

	// two letters do not trigger a chunk load
	rec := f.do(http.MethodGet, "/api/items?slot=Head&q=co", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]map[string]any](t, rec))

	rec = f.do(http.MethodGet, "/api/items?slot="+headID+"&q=cow", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]map[string]any](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "Cowl of Mortality", items[0]["name"])

	rec = f.do(http.MethodGet, "/api/items?slot=head&classes=WAR", "")
	assert.Empty(t, decodeBody[[]map[string]any](t, rec), "class filter")

	rec = f.do(http.MethodGet, "/api/items?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_EditBuild(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodPut, "/api/build/slots/"+headID, `{"itemId": 101}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[BuildView](t, rec)
	require.NotNil(t, view.Slots[1].Main)
	assert.Equal(t, 101, view.Slots[1].Main.ID)
	assert.Empty(t, view.Slots[1].Main.Name, "chunk not loaded yet")

	rec = f.do(http.MethodPut, "/api/build/slots/"+slots.AugmentKey(headID, 1), `{"itemId": 201}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[BuildView](t, rec)
	assert.Equal(t, 201, view.Slots[1].Augs[1].ID)

	rec = f.do(http.MethodPut, "/api/build/classes", `{"classes": [" rog", "war"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[BuildView](t, rec)
	assert.Equal(t, [3]string{"ROG", "WAR", ""}, view.Classes)
	assert.True(t, strings.HasSuffix(view.Fragment, "&classes=ROG-WAR-00"), view.Fragment)

	rec = f.do(http.MethodDelete, "/api/build/slots/"+headID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[BuildView](t, rec)
	assert.Nil(t, view.Slots[1].Main)

	rec = f.do(http.MethodPost, "/api/build/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.app.session.State().Assignments)
	assert.Equal(t, "ROG", f.app.session.State().Classes[0], "reset keeps classes")
}

func TestHTTP_EditBuildErrors(t *testing.T) {
	f := newHTTPFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/build/slots/Nose-9-9", `{"itemId": 1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/build/slots/"+headID, `{"itemId": 0}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/build/slots/"+headID, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/build/classes", `{"classes": ["a","b","c","d"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/fragment", `{}`).Code)
}

func TestHTTP_ImportWritesFragment(t *testing.T) {
	f := newHTTPFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewBufferString(testExport))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decodeBody[importResponse](t, rec)
	assert.Equal(t, 4, resp.Queued)
	assert.Equal(t, []int{0, 1, 2, 3}, resp.Chunks)

	// the poll loop settles the import once the chest entry is pruned
	require.Eventually(t, func() bool {
		return f.app.coord.State() == coordinator.Applied
	}, 5*time.Second, 10*time.Millisecond)

	rec = f.do(http.MethodGet, "/api/fragment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[fragmentBody](t, rec)
	assert.Equal(t, body.Rendered, body.Fragment, "import is written back at once")

	rec = f.do(http.MethodGet, "/api/build", "")
	view := decodeBody[BuildView](t, rec)
	require.NotNil(t, view.Slots[1].Main)
	assert.Equal(t, "Cowl of Mortality", view.Slots[1].Main.Name)
	assert.Equal(t, 7, view.Slots[1].Main.IconID)

	rec = f.do(http.MethodGet, "/api/status", "")
	status := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "Applied", status["state"])
}

func TestHTTP_ImportTooLarge(t *testing.T) {
	f := newHTTPFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(strings.Repeat("x", maxImportBytes+1)))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHTTP_SetFragment(t *testing.T) {
	f := newHTTPFixture(t)

	state := build.Empty()
	state.Set(primaryID, 11057)
	link := codec.FormatFragment(codec.Encode(state, []int{2}), state.Classes)

	body, err := json.Marshal(fragmentBody{Fragment: link})
	require.NoError(t, err)
	rec := f.do(http.MethodPut, "/api/fragment", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return f.app.session.State().Get(primaryID).Main == 11057
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDecodeCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	state := build.Empty()
	state.Set(headID, 101)
	link := codec.FormatFragment(codec.Encode(state, []int{0}), [3]string{"WAR", "", ""})

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"decode", "--log-level", "error", link})
	require.NoError(t, cmd.Execute())

	var got decodeOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, codec.Width, got.Width)
	assert.Equal(t, []int{0}, got.Chunks)
	assert.Equal(t, []string{"WAR", "", ""}, got.Classes)
	assert.Equal(t, []decodedSlot{{Slot: headID, Main: 101}}, got.Slots)
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"decode", "--config", path, "#build="})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
