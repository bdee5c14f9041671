// Package frameloop provides the scheduling core of a desktop media player:
// a render loop, an update loop, and a pool of transient workers for blocking
// work, plus the primitives that let them share state safely.
//
// # Quick Start
//
// Build one App at startup and hand it to every subsystem that needs to
// offload work or talk to another loop:
//
//	app, err := frameloop.New(frameloop.DefaultConfig(),
//		frameloop.WithUpdateHook(player.Update),
//		frameloop.WithRenderHook(ui.Draw),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := app.Run(ctx); err != nil { // blocks; the render loop runs here
//		log.Print(err)
//	}
//
// # Key Concepts
//
// Worker pool: App.Submit runs a Job on its own goroutine. Jobs sharing a
// QueueKey never overlap and start in submission order; at most
// Config.MaxWorkerThreads jobs run at once. A job's OnComplete runs on the
// update loop, never on the worker.
//
// Frame phases: ScheduleUpdate, SchedulePredraw and SchedulePostdraw queue a
// one-shot task on a specific point of the frame cycle from any goroutine.
// IsTaskRunning reports whether a scheduled task has finished.
//
// Freeze barrier: SuspendUpdate parks the update loop at its next checkpoint so
// the render loop can mutate state both loops touch; ResumeUpdate releases it.
//
// # Shutdown
//
// Quit ends the render loop. Run then drains every phase, stops the pool,
// ends the update loop and waits for in-flight jobs before returning.
//
// # Task and Reply
//
// RunWithResult carries a job's result back to the update loop:
//
//	frameloop.RunWithResult(app, "db",
//		func(ctx context.Context) ([]Track, error) { return library.Scan(ctx) },
//		func(tracks []Track, err error) { playlist.Replace(tracks) },
//	)
package frameloop
