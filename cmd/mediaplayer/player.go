package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	frameloop "github.com/Swind/go-frameloop"
	"github.com/Swind/go-frameloop/core"
)

// libraryFolders are scanned one at a time on the "db" queue key.
var libraryFolders = []string{"music", "videos", "podcasts"}

type layout struct {
	width, height int
}

// player stands in for the application subsystems that share the scheduler.
//
// Ownership:
//   - scanOrder: "db" jobs (serialized by queue key)
//   - ticks, position, tracks, unread: update loop
//   - layout: update loop, or a caller holding the freeze barrier
//   - frames, headline: render loop
type player struct {
	logger core.Logger
	app    *frameloop.App

	scanOrder []int

	ticks    int64
	position time.Duration
	tracks   int
	unread   int

	layout  layout
	resizes int

	frames   int64
	headline string
}

func newPlayer(logger core.Logger) *player {
	return &player{logger: logger, layout: layout{width: 1280, height: 720}}
}

func (p *player) attach(app *frameloop.App) { p.app = app }

// scanLibrary queues one scan job per folder. They share the "db" key, so they
// run one after another in submission order.
func (p *player) scanLibrary() {
	for i, folder := range libraryFolders {
		p.app.Submit(frameloop.Job{
			Name:     "scan:" + folder,
			QueueKey: "db",
			Task: func(ctx context.Context) {
				time.Sleep(time.Duration(5+rand.IntN(10)) * time.Millisecond)
				p.scanOrder = append(p.scanOrder, i)
			},
			OnComplete: func() {
				p.tracks += 10 * (i + 1)
				p.logger.Debug("library folder scanned", core.F("folder", folder), core.F("tracks", p.tracks))
			},
		})
	}
}

// fetchNews runs a simulated download and hands the headline to the render loop.
func (p *player) fetchNews() {
	frameloop.RunAndReplyOnPhase(p.app, "net", frameloop.PhasePredraw,
		func(ctx context.Context) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return fmt.Sprintf("headline %d", rand.IntN(1000)), nil
		},
		func(headline string, err error) {
			if err != nil {
				p.logger.Warn("news fetch failed", core.F("error", err))
				return
			}
			p.headline = headline
			p.app.ScheduleUpdate(func(context.Context) { p.unread++ })
		},
	)
}

// resize mutates state the update loop reads, so the update loop is parked first.
func (p *player) resize(width, height int) {
	p.app.WithUpdateSuspended(func() {
		p.layout = layout{width: width, height: height}
		p.resizes++
	})
}

func (p *player) update(ctx context.Context, app *frameloop.App) {
	p.ticks++
	p.position += app.Config().UpdatePeriod
	if p.layout.width == 0 || p.layout.height == 0 {
		p.logger.Warn("degenerate layout", core.F("width", p.layout.width), core.F("height", p.layout.height))
	}
}

func (p *player) render(ctx context.Context, app *frameloop.App) {
	p.frames++
	if p.frames%120 == 0 {
		frames := p.frames
		app.SchedulePostdraw(func(context.Context) {
			p.logger.Debug("frame presented", core.F("frames", frames))
		})
	}
}

// simulate plays the role of the OS event thread and timers until ctx ends.
func (p *player) simulate(ctx context.Context) {
	resize := time.NewTicker(150 * time.Millisecond)
	defer resize.Stop()
	news := time.NewTicker(400 * time.Millisecond)
	defer news.Stop()

	p.fetchNews()
	for {
		select {
		case <-ctx.Done():
			return
		case <-resize.C:
			p.resize(640+rand.IntN(1280), 360+rand.IntN(720))
		case <-news.C:
			p.fetchNews()
		}
	}
}

// report prints a summary. It must only be called after the App and simulate
// have both returned.
func (p *player) report(w io.Writer) {
	stats := p.app.Stats()
	fmt.Fprintf(w, "scan order: %v\n", p.scanOrder)
	fmt.Fprintf(w, "tracks: %d, unread news: %d, headline: %q\n", p.tracks, p.unread, p.headline)
	fmt.Fprintf(w, "update ticks: %d, render frames: %d, resizes: %d\n", p.ticks, p.frames, p.resizes)
	fmt.Fprintf(w, "jobs completed: %d, rejected: %d\n", stats.Pool.Completed, stats.Pool.Rejected)
}
