package service

import "time"

// TimerScheduler runs each task on its own timer goroutine.
// Tasks still waiting when the process exits are lost.
type TimerScheduler struct{}

// NewTimerScheduler creates a TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// Schedule implements ports.Scheduler.
func (TimerScheduler) Schedule(delay time.Duration, task func()) {
	time.AfterFunc(delay, task)
}
