package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gearplanner/internal/cache"
	"gearplanner/internal/codec"
	"gearplanner/internal/coordinator"
	"gearplanner/internal/fragment"
	"gearplanner/internal/importer"
	"gearplanner/internal/slots"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner API and the fragment bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				opts.cfg.Addr = addr
			}
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(parent context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := fragment.NewBridge(opts.logger)
	app := NewApp(opts.cfg, opts.logger, bridge)
	if err := app.startup(ctx); err != nil {
		return err
	}
	defer app.shutdown()

	e := app.newServer()
	errCh := make(chan error, 1)
	go func() {
		opts.logger.Info("listening", "addr", opts.cfg.Addr)
		if err := e.Start(opts.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	opts.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

type decodedSlot struct {
	Slot string `json:"slot"`
	Main int    `json:"main"`
	Augs [2]int `json:"augs"`
}

type decodeOutput struct {
	Legacy  bool          `json:"legacy"`
	Width   int           `json:"width"`
	Classes []string      `json:"classes"`
	Slots   []decodedSlot `json:"slots"`
	Chunks  []int         `json:"chunks"`
}

func newDecodeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <fragment>",
		Short: "Print the item ids and chunks carried by a build link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), decodeLink(args[0]))
		},
	}
}

// decodeLink accepts a bare fragment or a full URL
func decodeLink(link string) decodeOutput {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[i:]
	}
	frag, dec := codec.DecodeFragment(link)

	out := decodeOutput{
		Legacy:  frag.Legacy,
		Width:   dec.Width,
		Classes: frag.Classes[:],
		Chunks:  dec.ChunkIDs,
	}
	for _, slot := range slots.All() {
		a, ok := dec.Assignments[slot.ID]
		if !ok {
			continue
		}
		out.Slots = append(out.Slots, decodedSlot{Slot: slot.ID, Main: a.Main, Augs: a.Augs})
	}
	return out
}

type importOutput struct {
	Fragment string   `json:"fragment"`
	State    string   `json:"state"`
	Queued   int      `json:"queued"`
	Applied  int      `json:"applied"`
	Dropped  []string `json:"dropped,omitempty"`
	Chunks   []int    `json:"chunks"`
	Classes  []string `json:"classes"`
	Skipped  int      `json:"skipped"`
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import an inventory export and print the build link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("failed to read export: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out, err := runImport(ctx, opts, string(data))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up waiting for chunks after this long")
	return cmd
}

func runImport(ctx context.Context, opts *rootOptions, text string) (importOutput, error) {
	loc := fragment.NewMemoryLocation("")
	app := NewApp(opts.cfg, opts.logger, loc)
	if err := app.startup(ctx); err != nil {
		return importOutput{}, err
	}
	defer app.shutdown()

	res := importer.Parse(text, app.index)
	st := app.coord.Register(ctx, coordinator.Pending{
		Source:   coordinator.SourceImport,
		Entries:  res.Queue,
		ChunkIDs: res.ChunkIDs,
		Classes:  res.Classes,
	})
	// the app's poll loop drives the coordinator; only wait for it here
	if st == coordinator.Waiting {
		if err := app.coord.Wait(ctx); err != nil {
			return importOutput{}, fmt.Errorf("import did not settle: %w", err)
		}
	}

	applied := app.session.State().Keys()
	var dropped []string
	for key := range res.Queue {
		if _, ok := applied[key]; !ok {
			dropped = append(dropped, key)
		}
	}
	sort.Strings(dropped)

	return importOutput{
		Fragment: loc.Fragment(),
		State:    app.coord.State().String(),
		Queued:   len(res.Queue),
		Applied:  len(applied),
		Dropped:  dropped,
		Chunks:   res.ChunkIDs,
		Classes:  res.Classes[:],
		Skipped:  res.Skipped,
	}, nil
}

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local chunk cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached chunk",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := openCache(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer c.Close()
				if err := c.Clear(cmd.Context()); err != nil {
					return fmt.Errorf("failed to clear cache: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "chunk cache cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Remove chunks cached under an older schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := openCache(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer c.Close()
				n, err := c.PurgeStale(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to purge cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d stale entries\n", n)
				return nil
			},
		},
	)
	return cmd
}

func openCache(ctx context.Context, opts *rootOptions) (*cache.Cache, error) {
	var (
		store cache.Store
		err   error
	)
	if opts.cfg.Cache.DatabaseURL != "" {
		store, err = cache.OpenPostgres(ctx, opts.cfg.Cache.DatabaseURL)
	} else {
		path := opts.cfg.Cache.Path
		if path == "" {
			path = cache.DefaultPath()
		}
		store, err = cache.OpenSQLite(path)
	}
	if err != nil {
		return nil, err
	}
	return cache.New(store, newFetcher(opts.cfg.Catalog), cache.Options{
		Version: opts.cfg.Cache.Version,
		TTL:     opts.cfg.Cache.TTL,
		Logger:  opts.logger,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
