package game

import (
	"runtime"
	"sync"

	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/telemetry"
)

// Job is one independent game run. Games never share mutable state, so
// jobs can run on separate goroutines; cfg is only read.
type Job struct {
	Config  *config.Config
	Options Options
	Steps   int // 0 = until termination

	// Observe is called with each step record, on the worker goroutine.
	Observe func(telemetry.StepRecord)
}

// Result summarizes a finished job.
type Result struct {
	Index      int
	GameID     string
	Steps      int
	Terminated bool
	Reason     string
	Final      telemetry.StepRecord
	Err        error
}

// RunJobs runs jobs on a pool of workers and returns results in job order.
// workers <= 0 uses GOMAXPROCS.
func RunJobs(jobs []Job, workers int) []Result {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(jobs))

	results := make([]Result, len(jobs))
	workChan := make(chan int, len(jobs))
	for i := range jobs {
		workChan <- i
	}
	close(workChan)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workChan {
				results[i] = runJob(i, jobs[i])
			}
		}()
	}
	wg.Wait()
	return results
}

func runJob(index int, job Job) Result {
	res := Result{Index: index}
	g, err := NewGame(job.Config, job.Options)
	if err != nil {
		res.Err = err
		return res
	}
	defer g.Close()
	res.GameID = g.ID()

	for !g.IsTerminated() && (job.Steps <= 0 || g.CurrentStep() < job.Steps) {
		g.Step()
		for _, rec := range g.DrainRecords() {
			if job.Observe != nil {
				job.Observe(rec)
			}
			res.Final = rec
		}
	}
	res.Steps = g.CurrentStep()
	res.Terminated = g.IsTerminated()
	res.Reason = g.TerminationReason()
	return res
}
