package tapnet

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/eugenenazirov/tapcfg/internal/configdict"
)

// ErrInvalidConfig is returned when a record violates the experiment conventions.
var ErrInvalidConfig = errors.New("invalid experiment config")

var validate = validator.New()

// Settings is a typed, read-only view of the fields the training harness
// consumes. Harness defaults that TapNet does not touch are omitted.
type Settings struct {
	TrainingSteps      int              `yaml:"training_steps" validate:"gt=0"`
	SharedModuleNames  []string         `yaml:"shared_module_names" validate:"required,min=1,unique,dive,required"`
	DatasetNames       []string         `yaml:"dataset_names" validate:"required,min=1,dive,required"`
	TaskNames          []string         `yaml:"task_names" validate:"required,min=1,dive,required"`
	EvalModes          []string         `yaml:"eval_modes" validate:"dive,startswith=eval_"`
	Experiment         ExperimentKwargs `yaml:"experiment_kwargs"`
	CheckpointDir      string           `yaml:"checkpoint_dir" validate:"required"`
	EvaluateEvery      int              `yaml:"evaluate_every" validate:"gt=0"`
	EvalInitialWeights bool             `yaml:"eval_initial_weights"`
	JHMDBPath          *string          `yaml:"jhmdb_path"`
	RoboticsPointsPath *string          `yaml:"robotics_points_path"`
}

// ExperimentKwargs wraps the experiment_kwargs record.
type ExperimentKwargs struct {
	Config ExperimentConfig `yaml:"config"`
}

// ExperimentConfig is experiment_kwargs.config, the arguments handed to the
// experiment constructor.
type ExperimentConfig struct {
	SweepName                string          `yaml:"sweep_name" validate:"required"`
	SaveFinalCheckpointAsNPY bool            `yaml:"save_final_checkpoint_as_npy"`
	Optimizer                OptimizerConfig `yaml:"optimizer"`
	FastVariables            []string        `yaml:"fast_variables"`
	SharedModules            SharedModules   `yaml:"shared_modules"`
	Datasets                 Datasets        `yaml:"datasets"`
	Tasks                    Tasks           `yaml:"tasks"`
	Training                 Training        `yaml:"training"`
}

// OptimizerConfig selects the optimizer and its learning-rate schedule.
// A negative MaxNorm disables gradient clipping.
type OptimizerConfig struct {
	BaseLR            float64     `yaml:"base_lr" validate:"gt=0"`
	MaxNorm           float64     `yaml:"max_norm"`
	WeightDecay       float64     `yaml:"weight_decay" validate:"gte=0"`
	ScaleByBatch      bool        `yaml:"scale_by_batch"`
	ScheduleType      string      `yaml:"schedule_type" validate:"oneof=cosine constant"`
	CosineDecayKwargs CosineDecay `yaml:"cosine_decay_kwargs"`
	Optimizer         string      `yaml:"optimizer" validate:"oneof=adam sgd lamb"`
	AdamKwargs        Adam        `yaml:"adam_kwargs"`
}

// CosineDecay holds the warmup cosine schedule of the learning rate.
type CosineDecay struct {
	InitValue   float64 `yaml:"init_value" validate:"gte=0"`
	WarmupSteps int     `yaml:"warmup_steps" validate:"gte=0"`
	EndValue    float64 `yaml:"end_value" validate:"gte=0"`
}

// Adam holds the Adam moment decay rates and epsilon.
type Adam struct {
	B1  float64 `yaml:"b1" validate:"gte=0,lt=1"`
	B2  float64 `yaml:"b2" validate:"gte=0,lt=1"`
	Eps float64 `yaml:"eps" validate:"gt=0"`
}

// SharedModules names the modules built once and shared across tasks.
type SharedModules struct {
	SharedModuleNames []string `yaml:"shared_module_names"`
}

// Datasets lists the training datasets and the Kubric loader settings.
type Datasets struct {
	DatasetNames []string      `yaml:"dataset_names"`
	KubricKwargs KubricDataset `yaml:"kubric_kwargs"`
}

// KubricDataset configures the Kubric loader.
type KubricDataset struct {
	BatchDims         int   `yaml:"batch_dims" validate:"gt=0"`
	ShuffleBufferSize int   `yaml:"shuffle_buffer_size" validate:"gte=0"`
	TrainSize         []int `yaml:"train_size" validate:"len=2,dive,gt=0"`
}

// Tasks lists the training tasks and their per-task settings.
type Tasks struct {
	TaskNames    []string   `yaml:"task_names"`
	KubricKwargs KubricTask `yaml:"kubric_kwargs"`
}

// KubricTask configures the Kubric point tracking task.
type KubricTask struct {
	PredictionAlgo string `yaml:"prediction_algo" validate:"required"`
}

// Training mirrors the step budget consumed by the training loop.
type Training struct {
	NTrainingSteps int `yaml:"n_training_steps"`
}

// Validate decodes cfg into Settings and checks it. Besides the field rules
// it requires each mirrored field to match its source and the warmup to end
// before training does.
func Validate(cfg *configdict.ConfigDict) (Settings, error) {
	var s Settings
	if err := cfg.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := validate.Struct(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	exp := s.Experiment.Config
	switch {
	case !slices.Equal(exp.SharedModules.SharedModuleNames, s.SharedModuleNames):
		return Settings{}, fmt.Errorf("%w: shared_modules.shared_module_names diverged from shared_module_names", ErrInvalidConfig)
	case !slices.Equal(exp.Datasets.DatasetNames, s.DatasetNames):
		return Settings{}, fmt.Errorf("%w: datasets.dataset_names diverged from dataset_names", ErrInvalidConfig)
	case !slices.Equal(exp.Tasks.TaskNames, s.TaskNames):
		return Settings{}, fmt.Errorf("%w: tasks.task_names diverged from task_names", ErrInvalidConfig)
	case exp.Training.NTrainingSteps != s.TrainingSteps:
		return Settings{}, fmt.Errorf("%w: training.n_training_steps (%d) diverged from training_steps (%d)",
			ErrInvalidConfig, exp.Training.NTrainingSteps, s.TrainingSteps)
	case exp.Optimizer.ScheduleType == "cosine" && exp.Optimizer.CosineDecayKwargs.WarmupSteps >= s.TrainingSteps:
		return Settings{}, fmt.Errorf("%w: warmup_steps (%d) must be below training_steps (%d)",
			ErrInvalidConfig, exp.Optimizer.CosineDecayKwargs.WarmupSteps, s.TrainingSteps)
	}
	return s, nil
}
