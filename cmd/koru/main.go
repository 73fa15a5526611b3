// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"syscall"
	"time"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	_ "github.com/devblok/korugfx/backend/headless"
	"github.com/devblok/korugfx/core"
	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

var (
	configFile = flag.String("config", "koru.toml", "Configuration file")
	envFile    = flag.String("env", ".env", "Environment file loaded before the configuration")
	frames     = flag.Uint64("frames", 0, "Exit after this many frames, 0 runs until interrupted")
	cpuprofile = flag.String("cpuprofile", "", "Write a cpu profile to file")
	memprofile = flag.String("memprofile", "", "Write a heap profile to file on exit")
	tracefile  = flag.String("trace", "", "Write an execution trace to file")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := core.LoadConfiguration(*configFile)
	if err != nil {
		return err
	}
	if err := cfg.Log.Setup(); err != nil {
		return err
	}

	stop, err := startProfiling()
	if err != nil {
		return err
	}
	defer stop()

	logger := log.WithField("app", cfg.Renderer.ApplicationName)
	device, err := gfx.Open(cfg.Renderer.Backend, cfg.Renderer.DeviceConfig(logger.WithField("component", "device")))
	if err != nil {
		return err
	}

	dir := resource.NewDirSource(cfg.Resources.Directory)
	sources := resource.Chain{dir}
	if cfg.Resources.Archive != "" {
		archive, err := resource.OpenArchive(cfg.Resources.Archive)
		if err != nil {
			return err
		}
		defer archive.Close()
		sources = append(sources, archive)
	}

	opts := []core.Option{core.WithLogger(logger), core.WithDebug(cfg.Renderer.Debug)}
	pool := core.NewResourcePool(sources, opts...)
	renderer := core.NewRenderer(device, pool, cfg.Renderer, opts...)
	if err := renderer.Initialise(); err != nil {
		return err
	}
	defer renderer.Destroy()

	scn, err := newScene(pool)
	if err != nil {
		return err
	}
	defer scn.release()

	aspect := float32(cfg.Renderer.ScreenWidth) / float32(cfg.Renderer.ScreenHeight)
	for _, pass := range renderer.Passes() {
		pass.SetView(glm.LookAtV(glm.Vec3{0, 2, 6}, glm.Vec3{}, glm.Vec3{0, 1, 0}))
		pass.SetProj(glm.Perspective(glm.DegToRad(60), aspect, 0.1, 100))
		pass.SetUpdate(scn.update)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	if cfg.Resources.Watch {
		reloader, err := core.NewReloader(pool, dir, opts...)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return reloader.Run(ctx)
		})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	clock := core.NewTime(cfg.Time)
	defer clock.Stop()

	group.Go(func() error {
		start := time.Now()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info("reloading meshes")
				scn.reload()
			case <-clock.EventTicker().C:
				scn.animate(time.Since(start).Seconds())
			}
		}
	})

	group.Go(func() error {
		return frameLoop(ctx, renderer, clock, logger)
	})

	err = group.Wait()
	if errors.Is(err, errDone) {
		return nil
	}
	return err
}

var errDone = errors.New("frame limit reached")

func frameLoop(ctx context.Context, renderer *core.Renderer, clock *core.Time, logger *log.Entry) error {
	report := time.NewTicker(time.Second)
	defer report.Stop()

	var count uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			stats := renderer.Stats()
			logger.WithFields(log.Fields{
				"frame":   stats.Frame,
				"fps":     count,
				"draws":   stats.Draws,
				"skipped": stats.Skipped,
			}).Info("frame stats")
			count = 0
		case <-clock.FpsTicker().C:
			if err := renderer.Draw(); err != nil {
				return err
			}
			if err := renderer.Present(); err != nil {
				return err
			}
			count++
			if *frames > 0 && renderer.Stats().Frame >= *frames {
				return errDone
			}
		}
	}
}

func startProfiling() (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return stop, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return stop, err
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	if *tracefile != "" {
		f, err := os.Create(*tracefile)
		if err != nil {
			stop()
			return func() {}, err
		}
		if err := trace.Start(f); err != nil {
			f.Close()
			stop()
			return func() {}, err
		}
		stops = append(stops, func() {
			trace.Stop()
			f.Close()
		})
	}

	if *memprofile != "" {
		stops = append(stops, func() {
			f, err := os.Create(*memprofile)
			if err != nil {
				log.WithError(err).Error("could not create memory profile")
				return
			}
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.WithError(err).Error("could not write memory profile")
			}
		})
	}
	return stop, nil
}
