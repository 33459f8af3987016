package cron

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

type jobRecord struct {
	entry    types.JobEntry
	cronID   cron.EntryID
	runCount atomic.Uint64
	lastRun  atomic.Int64
}

type Manager struct {
	logger   types.Logger
	cron     *cron.Cron
	timezone *time.Location
	jobs     map[string]*jobRecord
	mu       sync.RWMutex
	state    atomic.Value
	shutdown chan struct{}
	stopOnce sync.Once
}

func NewManager(logger types.Logger, config *types.CronConfig) (types.CronManager, error) {
	timezone := time.UTC
	if config != nil && config.Timezone != "" {
		if loc, err := time.LoadLocation(config.Timezone); err == nil {
			timezone = loc
		} else {
			logger.Warn("Unknown cron timezone, falling back to UTC",
				zap.String("timezone", config.Timezone))
		}
	}

	cronL := safeCronLogger{logger: logger}

	manager := &Manager{
		logger: logger,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronL)),
		),
		timezone: timezone,
		jobs:     make(map[string]*jobRecord),
		shutdown: make(chan struct{}),
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}

	if spec == "" {
		return types.ErrCronExpressionInvalid
	}

	if job == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	record := &jobRecord{
		entry: types.JobEntry{
			Name: jobName,
			Spec: spec,
		},
	}

	cronID, err := m.cron.AddFunc(spec, m.wrapJob(jobName, record, job))
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	record.cronID = cronID
	m.jobs[jobName] = record

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.jobs[jobName]
	if !exists {
		return types.ErrCronJobNotFound
	}

	m.cron.Remove(record.cronID)
	delete(m.jobs, jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))

	return nil
}

func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]types.JobEntry, 0, len(m.jobs))
	for _, record := range m.jobs {
		entry := record.entry
		entry.RunCount = record.runCount.Load()
		if lastRun := record.lastRun.Load(); lastRun > 0 {
			entry.LastRun = time.Unix(0, lastRun)
		}
		if cronEntry := m.cron.Entry(record.cronID); cronEntry.ID != 0 {
			entry.NextRun = cronEntry.Next
		}
		entries = append(entries, entry)
	}

	return entries
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrCronIsRunning
	}

	m.cron.Start()
	m.logger.Info("Cron manager started", zap.String("timezone", m.timezone.String()))
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	m.stopOnce.Do(func() {
		close(m.shutdown)
	})

	stopCtx := m.cron.Stop()

	select {
	case <-stopCtx.Done():
		m.logger.Info("Cron scheduler stopped gracefully")
	case <-time.After(10 * time.Second):
		m.logger.Warn("Cron scheduler stop timeout, some jobs may still be running")
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

func (m *Manager) wrapJob(jobName string, record *jobRecord, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Panic in cron job",
					zap.String("job_name", jobName),
					zap.Any("panic", r))
			}
		}()

		select {
		case <-m.shutdown:
			m.logger.Debug("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		record.lastRun.Store(startTime.UnixNano())
		record.runCount.Add(1)

		m.logger.Debug("Cron job started", zap.String("job_name", jobName))

		job()

		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", time.Since(startTime)))
	}
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, convertFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(convertFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func convertFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
