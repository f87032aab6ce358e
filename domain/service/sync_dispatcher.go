package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

const (
	// DefaultRemoteRoot is where services live on the deployment host
	DefaultRemoteRoot = "/opt/services"

	putFileMethod  = "_putFile"
	installSegment = "install"
)

// scanLoopController lets the dispatcher take the scan loop down around a redeploy
type scanLoopController interface {
	// stops both scan timers and waits for the loop to exit
	PauseScanning()

	// reloads the index and starts a fresh scan loop
	RebuildAndResume(ctx context.Context) error
}

// RemotePath builds the upload target of a task
func RemotePath(root string, task model.ChangeTask) string {
	segment := task.Aspect
	if task.Aspect == model.AspectScripts {
		segment = installSegment
	}
	rel := task.RelPath
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return fmt.Sprintf("%s/%s/live/%s%s", strings.TrimRight(root, "/"), task.ServiceID, segment, rel)
}

// SyncDispatcher pushes a flushed batch to the deployment
type SyncDispatcher struct {
	orchestrator outbound.Orchestrator
	loop         scanLoopController
	logger       outbound.Logger
	width        int
	callTimeout  time.Duration
	remoteRoot   string

	// serializes redeploys triggered by overlapping flushes
	redeployMu sync.Mutex

	lstat    func(name string) (os.FileInfo, error)
	readFile func(name string) ([]byte, error)
}

func NewSyncDispatcher(
	orchestrator outbound.Orchestrator,
	logger outbound.Logger,
	width int,
	callTimeout time.Duration,
	remoteRoot string,
) *SyncDispatcher {
	if width < 1 {
		width = 1
	}
	if remoteRoot == "" {
		remoteRoot = DefaultRemoteRoot
	}
	return &SyncDispatcher{
		orchestrator: orchestrator,
		logger:       logger,
		width:        width,
		callTimeout:  callTimeout,
		remoteRoot:   remoteRoot,
		lstat:        os.Lstat,
		readFile:     os.ReadFile,
	}
}

// setLoop wires the controller used for structural redeploys
func (d *SyncDispatcher) setLoop(loop scanLoopController) {
	d.loop = loop
}

// Dispatch syncs every task of the batch. Failures stay scoped to their file
// or service and are reported, never returned.
func (d *SyncDispatcher) Dispatch(ctx context.Context, batch []model.ChangeTask) *model.FlushReport {
	report := model.NewFlushReport(uuid.NewString())

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.width)
	for _, task := range batch {
		task := task
		g.Go(func() error {
			outcome := d.syncFile(ctx, task)
			mu.Lock()
			report.Record(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if structural := report.ServicesWith(model.SyncStructural); len(structural) > 0 {
		d.redeploy(ctx, report, structural)
	}

	for _, id := range report.ServicesWith(model.SyncUploaded) {
		if err := d.restart(ctx, id); err != nil {
			d.logger.Error("Failed to restart service", "batch", report.BatchID, "service", id, "error", err)
			report.RecordServiceError(err)
			continue
		}
		report.Restarted = append(report.Restarted, id)
	}

	report.FinishedAt = time.Now()
	d.logger.Info("Flush complete",
		"batch", report.BatchID,
		"uploaded", report.Count(model.SyncUploaded),
		"skipped", report.Count(model.SyncSkippedSymlink),
		"structural", report.Count(model.SyncStructural),
		"failed", report.Count(model.SyncFailed),
		"restarted", len(report.Restarted),
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report
}

func (d *SyncDispatcher) syncFile(ctx context.Context, task model.ChangeTask) model.SyncOutcome {
	target := RemotePath(d.remoteRoot, task)

	info, err := d.lstat(task.AbsPath)
	if err != nil {
		d.logger.Error("Failed to stat changed file", "path", task.AbsPath, "error", err)
		return model.FailedOutcome(task, target, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		d.logger.Debug("Skipping symlink", "path", task.AbsPath)
		return model.SyncOutcome{Task: task, Status: model.SyncSkippedSymlink, RemotePath: target}

	case info.Mode().IsRegular():
		return d.upload(ctx, task, target)

	default:
		d.logger.Info("Structural change detected", "service", task.ServiceID, "path", task.AbsPath)
		return model.SyncOutcome{Task: task, Status: model.SyncStructural, RemotePath: target}
	}
}

func (d *SyncDispatcher) upload(ctx context.Context, task model.ChangeTask, target string) model.SyncOutcome {
	body, err := d.readFile(task.AbsPath)
	if err != nil {
		d.logger.Error("Failed to read changed file", "path", task.AbsPath, "error", err)
		return model.FailedOutcome(task, target, err)
	}

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	ok, err := d.orchestrator.Call(callCtx, putFileMethod, map[string]any{
		"path": target,
		"body": base64.StdEncoding.EncodeToString(body),
	})
	switch {
	case err != nil:
		err = classifyCallError(callCtx, err)
	case ok == nil:
		err = fmt.Errorf("%w: %s returned null", model.ErrRemoteUnreachable, putFileMethod)
	case !*ok:
		err = fmt.Errorf("%w: %s", model.ErrUploadRejected, target)
	}
	if err != nil {
		d.logger.Error("Failed to upload file",
			"service", task.ServiceID,
			"path", task.RelPath,
			"target", target,
			"retryable", model.IsRetryable(err),
			"error", err)
		return model.FailedOutcome(task, target, err)
	}

	d.logger.Info("Uploaded file", "service", task.ServiceID, "target", target, "bytes", len(body))
	return model.SyncOutcome{Task: task, Status: model.SyncUploaded, RemotePath: target, Bytes: len(body)}
}

// redeploy runs ensure+deploy for services whose manifest went stale, then
// rebuilds the index and restarts the scan loop
func (d *SyncDispatcher) redeploy(ctx context.Context, report *model.FlushReport, services []model.ServiceID) {
	d.redeployMu.Lock()
	defer d.redeployMu.Unlock()

	if d.loop != nil {
		d.loop.PauseScanning()
	}

	for _, id := range services {
		if err := d.deployService(ctx, id); err != nil {
			d.logger.Error("Failed to redeploy service", "batch", report.BatchID, "service", id, "error", err)
			report.RecordServiceError(err)
			continue
		}
		report.Redeployed = append(report.Redeployed, id)
	}

	if d.loop == nil {
		return
	}
	if err := d.loop.RebuildAndResume(ctx); err != nil {
		d.logger.Error("Failed to rebuild index after redeploy", "batch", report.BatchID, "error", err)
		report.RecordServiceError(err)
	}
}

func (d *SyncDispatcher) deployService(ctx context.Context, id model.ServiceID) error {
	d.logger.Info("Redeploying service", "service", id)

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	if _, err := d.orchestrator.Ensure(callCtx, string(id), model.EnsureOptions{}); err != nil {
		return fmt.Errorf("ensure %s: %w", id, classifyCallError(callCtx, err))
	}

	deployCtx, cancelDeploy := d.withTimeout(ctx)
	defer cancelDeploy()
	if _, err := d.orchestrator.Deploy(deployCtx); err != nil {
		return fmt.Errorf("deploy %s: %w", id, classifyCallError(deployCtx, err))
	}
	return nil
}

func (d *SyncDispatcher) restart(ctx context.Context, id model.ServiceID) error {
	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	if _, err := d.orchestrator.Restart(callCtx, id); err != nil {
		return fmt.Errorf("restart %s: %w", id, classifyCallError(callCtx, err))
	}
	d.logger.Info("Restarted service", "service", id)
	return nil
}

func (d *SyncDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.callTimeout)
}

// classifyCallError marks deadline expiry of the per-call timeout as retryable
func classifyCallError(callCtx context.Context, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, model.ErrCallTimeout) {
		return fmt.Errorf("%w: %w", model.ErrCallTimeout, err)
	}
	return err
}
