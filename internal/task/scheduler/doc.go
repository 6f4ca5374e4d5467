// Package scheduler owns the job table and decides when jobs fire.
//
// A single control loop (Run) holds every job. Submit, Cancel and List,
// cron triggers and firing results all reach it as commands over one
// channel. Firings execute on the task engine; the scheduler itself only
// computes trigger times and performs state transitions:
//
//	scheduled -> firing -> scheduled (recurring) | completed (now)
//	any       -> cancelled
package scheduler
