package bot

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

const (
	memWarnThresholdBytes  = 600 * 1024 * 1024
	memCritThresholdBytes  = 1200 * 1024 * 1024
	memCheckInterval       = 30 * time.Second
	memWarnEvery           = 10 * time.Minute
	goroutineWarnThreshold = 500
	goroutineCritThreshold = 1000
)

type memSample struct {
	heapAlloc  uint64
	sys        uint64
	goroutines int
}

func readMemSample() memSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return memSample{heapAlloc: ms.HeapAlloc, sys: ms.Sys, goroutines: runtime.NumGoroutine()}
}

type memLevel int

const (
	memOK memLevel = iota
	memWarn
	memCritical
)

func (s memSample) level() memLevel {
	switch {
	case s.goroutines >= goroutineCritThreshold, s.heapAlloc >= memCritThresholdBytes:
		return memCritical
	case s.goroutines >= goroutineWarnThreshold, s.heapAlloc > memWarnThresholdBytes:
		return memWarn
	}
	return memOK
}

// runMemoryWatcher samples heap and goroutine counts. Long walks over big
// forums hold many decoded images at once, so a leak shows up here first.
func (b *DiscordBot) runMemoryWatcher(ctx context.Context) {
	ticker := time.NewTicker(memCheckInterval)
	defer ticker.Stop()

	var lastWarnAt time.Time

	b.log.Infof("memwatch: started (warn=%dMB, crit=%dMB, goroutines warn=%d crit=%d)",
		memWarnThresholdBytes/(1024*1024),
		memCritThresholdBytes/(1024*1024),
		goroutineWarnThreshold,
		goroutineCritThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			b.log.Infof("memwatch: stopped")
			return
		case <-ticker.C:
			b.checkMemory(ctx, readMemSample(), &lastWarnAt)
		}
	}
}

func (b *DiscordBot) checkMemory(ctx context.Context, s memSample, lastWarnAt *time.Time) {
	heapMB := s.heapAlloc / (1024 * 1024)
	sysMB := s.sys / (1024 * 1024)

	switch s.level() {
	case memCritical:
		msg := fmt.Sprintf(
			"🚨 Resource leak, shutting down!\nHeap: %d MB (limit %d MB)\nSys: %d MB\nGoroutines: %d (limit %d)",
			heapMB, memCritThresholdBytes/(1024*1024), sysMB, s.goroutines, goroutineCritThreshold,
		)
		b.log.Errorf("memwatch: CRITICAL heap=%dMB goroutines=%d", heapMB, s.goroutines)
		b.sendMemAlert(ctx, msg, true)
	case memWarn:
		if b.now().Sub(*lastWarnAt) <= memWarnEvery {
			return
		}
		msg := fmt.Sprintf(
			"⚠️ High resource usage\nHeap: %d MB (warn at %d MB)\nSys: %d MB\nGoroutines: %d (warn at %d)",
			heapMB, memWarnThresholdBytes/(1024*1024), sysMB, s.goroutines, goroutineWarnThreshold,
		)
		b.log.Warnf("memwatch: WARNING heap=%dMB goroutines=%d", heapMB, s.goroutines)
		b.sendMemAlert(ctx, msg, false)
		runtime.GC()
		*lastWarnAt = b.now()
	}
}

// sendMemAlert notifies the admin chat. An emergency alert also cancels the
// root context so in-flight runs stop and the process exits.
func (b *DiscordBot) sendMemAlert(ctx context.Context, msg string, emergency bool) {
	if err := b.svc.Notifier().Notify(context.WithoutCancel(ctx), msg); err != nil {
		b.log.Warnf("memwatch: alert not delivered: %v", err)
	}
	if emergency && b.cancelFunc != nil {
		b.log.Errorf("memwatch: calling cancelFunc to initiate emergency shutdown")
		b.cancelFunc()
	}
}
