// Package service runs console scripts against appliances and keeps a record
// of every run.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/asaconsole/internal/archive"
	"github.com/sshcollectorpro/asaconsole/internal/config"
	"github.com/sshcollectorpro/asaconsole/internal/database"
	"github.com/sshcollectorpro/asaconsole/internal/model"
	"github.com/sshcollectorpro/asaconsole/internal/script"
	"github.com/sshcollectorpro/asaconsole/pkg/asa"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
)

const (
	dbAttempts = 5
	dbBackoff  = 50 * time.Millisecond
)

var (
	ErrInvalidRequest = errors.New("invalid run request")
	ErrRunNotFound    = errors.New("run not found")
)

// Device is an appliance to run scripts against. Empty fields are taken
// from the configured default device.
type Device struct {
	Host           string `json:"host"`
	Port           int    `json:"port,omitempty"`
	User           string `json:"user,omitempty"`
	Password       string `json:"password,omitempty"`
	EnablePassword string `json:"enable_password,omitempty"`
}

// RunRequest runs every script on every device.
type RunRequest struct {
	Scripts []string `json:"scripts"`
	Devices []Device `json:"devices,omitempty"`
}

// RunResponse summarizes a batch.
type RunResponse struct {
	BatchID   string             `json:"batch_id"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Runs      []*model.ScriptRun `json:"runs"`
}

// ConsoleFactory builds an unconnected console for a device.
type ConsoleFactory func(d Device) (*asa.Console, error)

// RunService executes script batches with bounded concurrency. Every script
// gets its own console.
type RunService struct {
	cfg     *config.Config
	archive archive.Writer

	mu         sync.RWMutex
	newConsole ConsoleFactory
}

func NewRunService(cfg *config.Config, w archive.Writer) *RunService {
	s := &RunService{cfg: cfg, archive: w}
	s.newConsole = s.sshConsole
	return s
}

// SetConsoleFactory replaces the SSH console factory, e.g. with simulated
// consoles.
func (s *RunService) SetConsoleFactory(f ConsoleFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newConsole = f
}

func (s *RunService) console(d Device) (*asa.Console, error) {
	s.mu.RLock()
	f := s.newConsole
	s.mu.RUnlock()
	return f(d)
}

func (s *RunService) sshConsole(d Device) (*asa.Console, error) {
	return asa.NewSSH(terminal.Options{
		Host:           d.Host,
		Port:           d.Port,
		User:           d.User,
		Password:       d.Password,
		ConnectTimeout: s.cfg.Console.ConnectTimeout,
		CommandTimeout: s.cfg.Console.CommandTimeout,
		PollInterval:   s.cfg.Console.PollInterval,
	}, s.cfg.SSH, d.EnablePassword)
}

// withDefaults fills the blanks of d from the configured device.
func (s *RunService) withDefaults(d Device) Device {
	def := s.cfg.Device
	if strings.TrimSpace(d.Host) == "" {
		d.Host = def.Host
	}
	if d.Port < 1 || d.Port > 65535 {
		d.Port = def.Port
	}
	if d.Port < 1 || d.Port > 65535 {
		d.Port = 22
	}
	if d.User == "" {
		d.User = def.User
	}
	if d.Password == "" {
		d.Password = def.Password
	}
	if d.EnablePassword == "" {
		d.EnablePassword = def.EnablePassword
	}
	return d
}

func (s *RunService) validate(req *RunRequest) ([]Device, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if len(req.Scripts) == 0 {
		return nil, fmt.Errorf("%w: scripts is empty", ErrInvalidRequest)
	}
	for _, name := range req.Scripts {
		if _, ok := script.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidRequest, script.ErrUnknownScript, name)
		}
	}

	devices := req.Devices
	if len(devices) == 0 {
		devices = []Device{{}}
	}
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		d = s.withDefaults(d)
		if d.Host == "" || d.User == "" {
			return nil, fmt.Errorf("%w: device host and user are required", ErrInvalidRequest)
		}
		out = append(out, d)
	}
	return out, nil
}

// Run executes the batch and waits for it. Script failures are recorded on
// their runs; the returned error covers invalid requests and storage
// failures.
func (s *RunService) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if database.GetDB() == nil {
		return nil, errors.New("database not initialized")
	}
	devices, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	runs := make([]*model.ScriptRun, 0, len(devices)*len(req.Scripts))
	for _, d := range devices {
		for _, name := range req.Scripts {
			runs = append(runs, &model.ScriptRun{
				ID:         uuid.NewString(),
				BatchID:    batchID,
				Script:     name,
				DeviceHost: d.Host,
				DevicePort: d.Port,
				Username:   d.User,
				Status:     model.RunStatusPending,
			})
		}
	}
	if err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(&runs).Error
	}, dbAttempts, dbBackoff); err != nil {
		return nil, fmt.Errorf("failed to create runs: %w", err)
	}

	log := logger.WithFields(logrus.Fields{"batch_id": batchID, "runs": len(runs)})
	log.Info("run batch started")

	var g errgroup.Group
	g.SetLimit(max(s.cfg.Runner.Concurrency, 1))
	for i, run := range runs {
		d := devices[i/len(req.Scripts)]
		g.Go(func() error {
			return s.execute(ctx, run, d)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &RunResponse{BatchID: batchID, Total: len(runs), Runs: runs}
	for _, run := range runs {
		if run.Status == model.RunStatusSuccess {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	log.WithFields(logrus.Fields{"succeeded": resp.Succeeded, "failed": resp.Failed}).Info("run batch finished")
	return resp, nil
}

// execute drives one script and persists its outcome.
func (s *RunService) execute(ctx context.Context, run *model.ScriptRun, d Device) error {
	log := logger.WithFields(logrus.Fields{"run_id": run.ID, "script": run.Script, "host": d.Host})

	run.Status = model.RunStatusRunning
	run.StartTime = time.Now()
	if err := s.save(ctx, run, nil); err != nil {
		return err
	}

	var (
		res    *script.Result
		runErr error
	)
	c, err := s.console(d)
	if err != nil {
		runErr = err
	} else {
		runner := &script.Runner{}
		res, runErr = runner.Run(ctx, run.Script, c)
		if runErr == nil {
			runErr = res.Err
		}
	}

	run.EndTime = time.Now()
	run.Duration = run.EndTime.Sub(run.StartTime).Milliseconds()
	run.Status = model.RunStatusSuccess
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.ErrorKind = asa.ErrorKind(runErr)
		run.ErrorMsg = runErr.Error()
		log.WithField("kind", run.ErrorKind).Warnf("script failed: %v", runErr)
	}

	var logs []model.CommandLog
	if res != nil {
		run.Commands = len(res.Exchanges)
		logs = make([]model.CommandLog, 0, len(res.Exchanges))
		for i, e := range res.Exchanges {
			logs = append(logs, model.CommandLog{
				RunID:  run.ID,
				Seq:    i + 1,
				Prompt: e.Prompt,
				Input:  e.Input,
				Output: e.Output,
			})
		}
		if res.Transcript != "" && s.archive != nil {
			obj, err := s.archive.Write(ctx, archive.Meta{
				RunID:   run.ID,
				Device:  d.Host,
				Script:  run.Script,
				Started: run.StartTime,
			}, res.Transcript)
			if err != nil {
				log.Warnf("transcript archive: %v", err)
			}
			run.TranscriptURI = obj.URI
		}
	}

	if err := s.save(ctx, run, logs); err != nil {
		return err
	}
	log.WithField("duration_ms", run.Duration).Debug("run recorded")
	return nil
}

func (s *RunService) save(ctx context.Context, run *model.ScriptRun, logs []model.CommandLog) error {
	err := database.TransactionWithRetry(func(tx *gorm.DB) error {
		tx = tx.WithContext(context.WithoutCancel(ctx))
		if err := tx.Omit("Logs").Save(run).Error; err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}
		return tx.CreateInBatches(&logs, 100).Error
	}, dbAttempts, dbBackoff)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// ListFilter narrows ListRuns. Zero values match everything.
type ListFilter struct {
	BatchID string
	Script  string
	Host    string
	Status  string
	Limit   int
	Offset  int
}

// ListRuns returns matching runs, newest first, and the total match count.
func (s *RunService) ListRuns(ctx context.Context, f ListFilter) ([]model.ScriptRun, int64, error) {
	db := database.GetDB()
	if db == nil {
		return nil, 0, errors.New("database not initialized")
	}
	q := db.WithContext(ctx).Model(&model.ScriptRun{})
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.Script != "" {
		q = q.Where("script = ?", f.Script)
	}
	if f.Host != "" {
		q = q.Where("device_host = ?", f.Host)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	// shared by the count and the page query
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	var runs []model.ScriptRun
	err := q.Order("created_at DESC").Order("id").Limit(f.Limit).Offset(f.Offset).Find(&runs).Error
	return runs, total, err
}

// GetRun loads a run with its command logs in order.
func (s *RunService) GetRun(ctx context.Context, id string) (*model.ScriptRun, error) {
	db := database.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	var run model.ScriptRun
	err := db.WithContext(ctx).
		Preload("Logs", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Transcript renders a run's command logs the way the console showed them.
func (s *RunService) Transcript(ctx context.Context, id string) (string, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, l := range run.Logs {
		b.WriteString(l.Prompt)
		b.WriteString(l.Input)
		b.WriteString(l.Output)
	}
	return b.String(), nil
}
