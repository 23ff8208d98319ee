// Command webtrain trains and evaluates image classifiers on a partitioned
// image directory, with either curated ground-truth labels or noisy
// directory-derived candidate labels.
//
// Configuration precedence, lowest to highest: built-in defaults, the file
// named by --config, explicit command-line flags.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/webtrain-ml/webtrain/internal/checkpoint"
	"github.com/webtrain-ml/webtrain/internal/config"
	"github.com/webtrain-ml/webtrain/internal/dataset"
	"github.com/webtrain-ml/webtrain/internal/eval"
	"github.com/webtrain-ml/webtrain/internal/label"
	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/optim"
	"github.com/webtrain-ml/webtrain/internal/train"
)

// cliArgs mirrors config.Config with pointer fields so that only flags the
// user actually passed override the configuration file.
type cliArgs struct {
	ConfigFile *string `arg:"--config" help:"YAML or JSON configuration file"`

	Root          *string  `arg:"--root" help:"dataset root directory"`
	Main          *string  `arg:"--main" help:"training partition directory name"`
	Test          *string  `arg:"--test" help:"validation partition directory name"`
	NumClasses    *int     `arg:"--num-classes" help:"limit to the first N classes (lexicographic)"`
	MinImages     *int     `arg:"--min-images" help:"drop classes with fewer training images"`
	SelectClasses []string `arg:"--select-classes" help:"train only on these classes"`
	TrainSize     *int     `arg:"--train-size" help:"per-class training subset size"`

	Model  *string `arg:"--model" help:"classifier architecture (linear, mlp)"`
	Hidden *int    `arg:"--hidden" help:"mlp hidden width"`
	Loss   *string `arg:"--loss" help:"loss function (cross_entropy, mse)"`

	Optimizer   *string  `arg:"--opt" help:"optimizer (sgd, adam)"`
	LR          *float32 `arg:"--lr" help:"base learning rate"`
	Momentum    *float32 `arg:"--momentum" help:"sgd momentum"`
	WeightDecay *float32 `arg:"--weight-decay" help:"L2 penalty"`

	DecayRate      *float64 `arg:"--decay-rate" help:"step decay factor"`
	DecayEpochs    *int     `arg:"--decay-epochs" help:"epochs between decays"`
	DecayMaxEpochs *int     `arg:"--decay-max-epochs" help:"freeze decay past this epoch"`
	InverseSqrtLR  *bool    `arg:"--use-inverse-sqrt-lr" help:"per-step inverse square root schedule"`

	Epochs             *int   `arg:"--epochs" help:"number of training epochs"`
	BatchSize          *int   `arg:"--batch-size" help:"samples per batch"`
	EvalInterval       *int   `arg:"--eval-interval" help:"epochs between evaluations"`
	CheckpointInterval *int   `arg:"--checkpoint-interval" help:"epochs between checkpoints"`
	Seed               *int64 `arg:"--seed" help:"random seed"`

	LabelSource *string  `arg:"--label-source" help:"training labels (ground-truth, candidate)"`
	InjectNoise *float64 `arg:"--inject-noise" help:"symmetric label noise rate in [0, 1)"`

	ResizeSize   *int  `arg:"--resize-size" help:"shorter-side resize before crop"`
	CropSize     *int  `arg:"--crop-size" help:"square crop size fed to the model"`
	NoRandomCrop *bool `arg:"--norandomcrop" help:"disable random resized crop"`
	NoRandomFlip *bool `arg:"--norandomflip" help:"disable random horizontal flip"`

	Workers   *int    `arg:"--workers" help:"batch prefetch workers (0 = logical CPUs)"`
	OutputDir *string `arg:"--output-dir" help:"directory for checkpoints and metrics"`
	Resume    *string `arg:"--resume" help:"checkpoint to continue from"`
	Evaluate  bool    `arg:"--evaluate" help:"run a single validation pass, no training"`
	Verbose   bool    `arg:"-v,--verbose" help:"debug logging"`
}

func (cliArgs) Description() string {
	return "webtrain trains image classifiers under ground-truth or web-candidate labels"
}

func main() {
	var args cliArgs
	arg.MustParse(&args)

	logger := newLogger(args.Verbose)
	defer logger.Sync()

	if err := run(args, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

func run(args cliArgs, logger *zap.Logger) error {
	cfg := config.Default()
	if args.ConfigFile != nil {
		if err := config.LoadFile(&cfg, *args.ConfigFile, logger); err != nil {
			return err
		}
	}
	applyOverrides(&cfg, args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	variant, err := label.ParseVariant(cfg.LabelSource)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = dataset.DefaultWorkers()
	}
	logger.Info("host",
		zap.String("cpu", cpuid.CPU.BrandName),
		zap.Int("logical_cores", cpuid.CPU.LogicalCores),
		zap.Int("workers", workers))

	// Class universe comes from the training partition; both partitions use
	// the identical class-to-index mapping.
	classes, err := dataset.ScanClasses(cfg.MainDir(), cfg.MinImages)
	if err != nil {
		return err
	}
	if len(cfg.SelectClasses) > 0 {
		classes, err = dataset.SelectClasses(classes, cfg.SelectClasses)
		if err != nil {
			return err
		}
	}
	if cfg.NumClasses > 0 {
		if len(classes) < cfg.NumClasses {
			return fmt.Errorf("configured num_classes=%d but %s yields only %d usable classes",
				cfg.NumClasses, cfg.MainDir(), len(classes))
		}
		classes = classes[:cfg.NumClasses]
	}
	if len(classes) < 2 {
		return fmt.Errorf("need at least 2 classes, found %d in %s", len(classes), cfg.MainDir())
	}

	trainDS, err := dataset.Scan(cfg.MainDir(), classes, logger)
	if err != nil {
		return err
	}
	if cfg.TrainSize > 0 {
		trainDS.SubsetPerClass(cfg.TrainSize)
	}
	valDS, err := dataset.Scan(cfg.TestDir(), classes, logger)
	if err != nil {
		return err
	}
	logger.Info("dataset",
		zap.Int("classes", len(classes)),
		zap.String("train_samples", humanize.Comma(int64(len(trainDS.Samples)))),
		zap.String("val_samples", humanize.Comma(int64(len(valDS.Samples)))))

	source := label.NewSource(variant, logger)
	trainLabels := source.Resolve(trainDS)
	if cfg.InjectNoise > 0 {
		rng := rand.New(rand.NewSource(cfg.Seed))
		changed := label.InjectSymmetric(trainLabels, len(classes), cfg.InjectNoise, rng)
		logger.Info("injected symmetric label noise",
			zap.Float64("rate", cfg.InjectNoise),
			zap.Int("relabeled", changed))
	}

	trainTF := dataset.NewTrainTransform(cfg.ResizeSize, cfg.CropSize,
		!cfg.NoRandomCrop, !cfg.NoRandomFlip)
	evalTF := dataset.NewEvalTransform(cfg.ResizeSize, cfg.CropSize)

	rng := rand.New(rand.NewSource(cfg.Seed))
	model, err := nn.New(cfg.Model, trainTF.Features(), len(classes), cfg.Hidden, rng)
	if err != nil {
		return err
	}
	optimizer, err := optim.New(cfg.Optimizer, model.Parameters(), optim.Config{
		LR:          cfg.LR,
		Momentum:    cfg.Momentum,
		WeightDecay: cfg.WeightDecay,
		Betas:       [2]float32{0.9, 0.999},
		Eps:         1e-8,
	})
	if err != nil {
		return err
	}
	loss, err := nn.NewLoss(cfg.Loss)
	if err != nil {
		return err
	}

	valLoader := dataset.NewLoader(valDS.Samples, valDS.Labels(), evalTF,
		cfg.BatchSize, false, 0, workers, logger)
	validator := eval.New(valLoader, loss, logger)

	if cfg.Evaluate {
		return evaluateOnly(cfg, model, optimizer, validator, logger)
	}

	trainLoader := dataset.NewLoader(trainDS.Samples, trainLabels, trainTF,
		cfg.BatchSize, true, cfg.Seed, workers, logger)

	// Train-partition accuracy is measured against the same labels the
	// model optimizes, with the deterministic transform and fixed order.
	trainEvalLoader := dataset.NewLoader(trainDS.Samples, trainLabels, evalTF,
		cfg.BatchSize, false, 0, workers, logger)

	metrics, err := train.OpenMetricLog(filepath.Join(cfg.OutputDir, train.MetricLogName))
	if err != nil {
		return err
	}
	defer metrics.Close()

	trainer := train.New(train.Params{
		Config:    cfg,
		Model:     model,
		Optimizer: optimizer,
		Loss:      loss,
		Train:     trainLoader,
		Val:       validator,
		TrainEval: eval.New(trainEvalLoader, loss, logger),
		Metrics:   metrics,
		Logger:    logger,
	})
	return trainer.Run()
}

// evaluateOnly restores a checkpoint when given and runs one validation
// pass. No optimizer step runs and no checkpoint is written.
func evaluateOnly(cfg config.Config, model nn.Classifier, optimizer optim.Optimizer,
	validator *eval.Evaluator, logger *zap.Logger) error {
	if cfg.Resume != "" {
		meta, err := checkpoint.Load(cfg.Resume, model, optimizer)
		if err != nil {
			return err
		}
		logger.Info("loaded checkpoint for evaluation",
			zap.String("path", cfg.Resume),
			zap.Int("epoch", meta.Epoch))
	}

	result, err := validator.Run(model)
	if err != nil {
		return err
	}
	logger.Info("evaluation",
		zap.Float64("loss", result.Loss),
		zap.Float64("acc1", result.Acc1),
		zap.Float64("acc5", result.Acc5),
		zap.Int("samples", result.Samples),
		zap.Int("skipped", result.Skipped))
	return nil
}

// applyOverrides copies every flag the user passed onto cfg.
func applyOverrides(cfg *config.Config, args cliArgs) {
	setString(&cfg.Root, args.Root)
	setString(&cfg.Main, args.Main)
	setString(&cfg.Test, args.Test)
	setInt(&cfg.NumClasses, args.NumClasses)
	setInt(&cfg.MinImages, args.MinImages)
	if len(args.SelectClasses) > 0 {
		cfg.SelectClasses = args.SelectClasses
	}
	setInt(&cfg.TrainSize, args.TrainSize)

	setString(&cfg.Model, args.Model)
	setInt(&cfg.Hidden, args.Hidden)
	setString(&cfg.Loss, args.Loss)

	setString(&cfg.Optimizer, args.Optimizer)
	if args.LR != nil {
		cfg.LR = *args.LR
	}
	if args.Momentum != nil {
		cfg.Momentum = *args.Momentum
	}
	if args.WeightDecay != nil {
		cfg.WeightDecay = *args.WeightDecay
	}

	if args.DecayRate != nil {
		cfg.DecayRate = *args.DecayRate
	}
	setInt(&cfg.DecayEpochs, args.DecayEpochs)
	setInt(&cfg.DecayMaxEpochs, args.DecayMaxEpochs)
	setBool(&cfg.InverseSqrtLR, args.InverseSqrtLR)

	setInt(&cfg.Epochs, args.Epochs)
	setInt(&cfg.BatchSize, args.BatchSize)
	setInt(&cfg.EvalInterval, args.EvalInterval)
	setInt(&cfg.CheckpointInterval, args.CheckpointInterval)
	if args.Seed != nil {
		cfg.Seed = *args.Seed
	}

	setString(&cfg.LabelSource, args.LabelSource)
	if args.InjectNoise != nil {
		cfg.InjectNoise = *args.InjectNoise
	}

	setInt(&cfg.ResizeSize, args.ResizeSize)
	setInt(&cfg.CropSize, args.CropSize)
	setBool(&cfg.NoRandomCrop, args.NoRandomCrop)
	setBool(&cfg.NoRandomFlip, args.NoRandomFlip)

	setInt(&cfg.Workers, args.Workers)
	setString(&cfg.OutputDir, args.OutputDir)
	setString(&cfg.Resume, args.Resume)
	if args.Evaluate {
		cfg.Evaluate = true
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
