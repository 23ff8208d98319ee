// Package train drives the optimization loop: epoch iteration, learning-rate
// scheduling, metric logging and checkpointing.
package train

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webtrain-ml/webtrain/internal/checkpoint"
	"github.com/webtrain-ml/webtrain/internal/config"
	"github.com/webtrain-ml/webtrain/internal/dataset"
	"github.com/webtrain-ml/webtrain/internal/eval"
	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/optim"
)

// ErrNonFiniteLoss is returned when a training step produces NaN or Inf
// loss. The run aborts immediately rather than continue from poisoned
// parameters.
var ErrNonFiniteLoss = errors.New("training loss is not finite")

// Checkpoint file names inside the output directory.
const (
	LatestCheckpoint = "latest.ckpt"
	BestCheckpoint   = "best.ckpt"
	MetricLogName    = "metrics.jsonl"
)

// Params collects everything a Trainer needs. All fields are required
// except TrainEval, which enables train-partition accuracy reporting when
// set.
type Params struct {
	Config    config.Config
	Model     nn.Classifier
	Optimizer optim.Optimizer
	Loss      nn.Loss
	Train     *dataset.Loader
	Val       *eval.Evaluator
	TrainEval *eval.Evaluator
	Metrics   *MetricLog
	Logger    *zap.Logger
}

// Trainer runs the full optimization loop for one configuration.
type Trainer struct {
	p     Params
	runID string

	startEpoch int
	step       int64
	bestAcc1   float64
}

// New creates a trainer with a fresh run identifier.
func New(p Params) *Trainer {
	return &Trainer{p: p, runID: uuid.NewString(), startEpoch: 1}
}

// RunID returns the identifier stamped on this run's metric entries.
func (t *Trainer) RunID() string {
	return t.runID
}

// Run executes the training loop from the configured start state until the
// final epoch, evaluating and checkpointing along the way.
//
// Epochs are one-based. When Config.Resume names a checkpoint, model and
// optimizer state are restored first and the loop continues at the epoch
// after the checkpointed one; a resume failure is fatal, silently starting
// over would discard the very state the flag asked to keep.
func (t *Trainer) Run() error {
	cfg := t.p.Config
	logger := t.p.Logger

	if cfg.Resume != "" {
		if err := t.resume(cfg.Resume); err != nil {
			return err
		}
	}

	schedule := StepDecay{
		Base:     cfg.LR,
		Rate:     cfg.DecayRate,
		Interval: cfg.DecayEpochs,
		MaxEpoch: cfg.DecayMaxEpochs,
	}
	invSqrt := InverseSqrt{Base: cfg.LR}

	logger.Info("starting training",
		zap.String("run_id", t.runID),
		zap.String("model", t.p.Model.Name()),
		zap.String("optimizer", t.p.Optimizer.Name()),
		zap.String("loss", t.p.Loss.Name()),
		zap.String("label_source", cfg.LabelSource),
		zap.Int("start_epoch", t.startEpoch),
		zap.Int("epochs", cfg.Epochs),
		zap.Int("train_samples", t.p.Train.NumSamples()),
		zap.Int("batches_per_epoch", t.p.Train.NumBatches()))

	skippedTotal := 0
	start := time.Now()

	for epoch := t.startEpoch; epoch <= cfg.Epochs; epoch++ {
		if !cfg.InverseSqrtLR {
			t.p.Optimizer.SetLR(schedule.LR(epoch - 1))
		}

		lossMeter, err := t.trainEpoch(epoch, invSqrt)
		if err != nil {
			return err
		}
		skippedTotal += lossMeter.skipped

		logger.Info("epoch complete",
			zap.Int("epoch", epoch),
			zap.Int64("step", t.step),
			zap.Float64("train_loss", lossMeter.loss.Avg()),
			zap.Float64("train_acc1", lossMeter.acc1.Avg()),
			zap.Float32("lr", t.p.Optimizer.LR()))

		if epoch%cfg.EvalInterval == 0 || epoch == cfg.Epochs {
			if err := t.evaluate(epoch, lossMeter.loss.Avg()); err != nil {
				return err
			}
		}
		if epoch%cfg.CheckpointInterval == 0 || epoch == cfg.Epochs {
			if err := t.saveCheckpoint(LatestCheckpoint, epoch); err != nil {
				return err
			}
		}
	}

	logger.Info("training complete",
		zap.String("run_id", t.runID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("steps", t.step),
		zap.Float64("best_acc1", t.bestAcc1),
		zap.Int("skipped_samples", skippedTotal))

	return nil
}

// epochMeters aggregates one epoch of training statistics.
type epochMeters struct {
	loss    AverageMeter
	acc1    AverageMeter
	skipped int
}

// trainEpoch runs one pass over the shuffled training partition.
func (t *Trainer) trainEpoch(epoch int, invSqrt InverseSqrt) (*epochMeters, error) {
	cfg := t.p.Config
	meters := &epochMeters{}

	it := t.p.Train.Epoch(epoch)
	defer it.Close()
	for batch := it.Next(); batch != nil; batch = it.Next() {
		if batch.Size() == 0 {
			// Every sample in the batch failed to decode; the per-sample
			// skips are already counted, nothing to train on.
			continue
		}

		if cfg.InverseSqrtLR {
			t.p.Optimizer.SetLR(invSqrt.LR(t.step))
		}

		logits := t.p.Model.Forward(batch.Images)
		lossVal := t.p.Loss.Forward(logits, batch.Labels)
		if math.IsNaN(float64(lossVal)) || math.IsInf(float64(lossVal), 0) {
			return nil, fmt.Errorf("epoch %d step %d: loss %v: %w",
				epoch, t.step, lossVal, ErrNonFiniteLoss)
		}

		t.p.Optimizer.ZeroGrad()
		gradLogits := t.p.Loss.Backward(logits, batch.Labels)
		t.p.Model.Backward(batch.Images, gradLogits)
		t.p.Optimizer.Step()
		t.step++

		correct1 := nn.CorrectTopK(logits, batch.Labels, 1)
		meters.loss.Update(float64(lossVal), batch.Size())
		meters.acc1.Update(float64(correct1)/float64(batch.Size()), batch.Size())
	}
	meters.skipped = it.SkippedSamples

	return meters, nil
}

// evaluate runs the validation pass, appends a metric entry and keeps the
// best-checkpoint rule: strictly greater top-1 replaces the previous best,
// ties keep the earlier checkpoint.
func (t *Trainer) evaluate(epoch int, trainLoss float64) error {
	valResult, err := t.p.Val.Run(t.p.Model)
	if err != nil {
		return fmt.Errorf("epoch %d: validation failed: %w", epoch, err)
	}

	entry := MetricEntry{
		RunID:       t.runID,
		Epoch:       epoch,
		Step:        t.step,
		Loss:        trainLoss,
		Acc1:        valResult.Acc1,
		Acc5:        valResult.Acc5,
		ValLoss:     valResult.Loss,
		LR:          t.p.Optimizer.LR(),
		LabelSource: t.p.Config.LabelSource,
		Timestamp:   time.Now().UTC(),
	}
	if t.p.TrainEval != nil {
		trainResult, err := t.p.TrainEval.Run(t.p.Model)
		if err != nil {
			return fmt.Errorf("epoch %d: train-partition evaluation failed: %w", epoch, err)
		}
		entry.TrainAcc1 = trainResult.Acc1
		entry.TrainAcc5 = trainResult.Acc5
	}
	if err := t.p.Metrics.Append(entry); err != nil {
		return err
	}

	t.p.Logger.Info("validation",
		zap.Int("epoch", epoch),
		zap.Float64("acc1", valResult.Acc1),
		zap.Float64("acc5", valResult.Acc5),
		zap.Float64("val_loss", valResult.Loss))

	if valResult.Acc1 > t.bestAcc1 {
		t.bestAcc1 = valResult.Acc1
		if err := t.saveCheckpoint(BestCheckpoint, epoch); err != nil {
			return err
		}
		t.p.Logger.Info("new best model",
			zap.Int("epoch", epoch),
			zap.Float64("acc1", t.bestAcc1))
	}
	return nil
}

// saveCheckpoint snapshots model and optimizer state into the output
// directory under name.
func (t *Trainer) saveCheckpoint(name string, epoch int) error {
	path := filepath.Join(t.p.Config.OutputDir, name)
	meta := checkpoint.Meta{
		Model:       t.p.Model.Name(),
		Optimizer:   t.p.Optimizer.Name(),
		LabelSource: t.p.Config.LabelSource,
		Epoch:       epoch,
		Step:        t.step,
		BestAcc1:    t.bestAcc1,
		LR:          t.p.Optimizer.LR(),
	}
	if err := checkpoint.Save(path, t.p.Model, t.p.Optimizer, meta); err != nil {
		return fmt.Errorf("epoch %d: failed to save checkpoint: %w", epoch, err)
	}

	size := "unknown"
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	t.p.Logger.Info("checkpoint saved",
		zap.String("path", path),
		zap.Int("epoch", epoch),
		zap.String("size", size))
	return nil
}

// resume restores model and optimizer state from a checkpoint and advances
// the loop position past the checkpointed epoch.
func (t *Trainer) resume(path string) error {
	meta, err := checkpoint.Load(path, t.p.Model, t.p.Optimizer)
	if err != nil {
		return fmt.Errorf("failed to resume from %s: %w", path, err)
	}

	t.startEpoch = meta.Epoch + 1
	t.step = meta.Step
	t.bestAcc1 = meta.BestAcc1
	t.p.Metrics.SeekTo(meta.Epoch, meta.Step)

	t.p.Logger.Info("resumed from checkpoint",
		zap.String("path", path),
		zap.Int("epoch", meta.Epoch),
		zap.Int64("step", meta.Step),
		zap.Float64("best_acc1", meta.BestAcc1))
	return nil
}
