package tapnet

import (
	"fmt"

	"github.com/eugenenazirov/tapcfg/internal/configdict"
)

// Config returns the locked configuration for training TapNet. Every call
// builds a fresh record, so callers may modify their copy freely.
func Config() *configdict.ConfigDict {
	config := BaseConfig()

	// Experiment config.
	set(config, "training_steps", 500000)

	// Duplicates not allowed.
	set(config, "shared_module_names", configdict.Strings("tapnet_model"))

	set(config, "dataset_names", configdict.Strings("kubric"))
	set(config, "task_names", configdict.Strings("kubric"))
	// Eval modes must always start with "eval_".
	set(config, "eval_modes", configdict.Strings(
		"eval_kubric",
		"eval_jhmdb",
		"eval_robotics_points",
	))

	set(config, "experiment_kwargs", configdict.MustNew(
		configdict.Field("config", configdict.MustNew(
			configdict.Field("sweep_name", "default_sweep"),
			configdict.Field("save_final_checkpoint_as_npy", true),
			configdict.Field("optimizer", configdict.MustNew(
				configdict.Field("base_lr", 2e-3),
				configdict.Field("max_norm", -1.0), // < 0 turns clipping off.
				configdict.Field("weight_decay", 1e-2),
				configdict.Field("scale_by_batch", true),
				configdict.Field("schedule_type", "cosine"),
				configdict.Field("cosine_decay_kwargs", configdict.MustNew(
					configdict.Field("init_value", 0.0),
					configdict.Field("warmup_steps", 5000),
					configdict.Field("end_value", 0.0),
				)),
				configdict.Field("optimizer", "adam"),
				configdict.Field("adam_kwargs", configdict.MustNew(
					configdict.Field("b1", 0.9),
					configdict.Field("b2", 0.95),
					configdict.Field("eps", 1e-8),
				)),
			)),
			configdict.Field("fast_variables", configdict.Strings("track_pred", "rescaler_")),
			configdict.Field("shared_modules", configdict.MustNew(
				configdict.Field("shared_module_names", config.MustOnewayRef("shared_module_names")),
				configdict.Field("tapnet_model_kwargs", configdict.MustNew()),
			)),
			configdict.Field("datasets", configdict.MustNew(
				configdict.Field("dataset_names", config.MustOnewayRef("dataset_names")),
				configdict.Field("kubric_kwargs", configdict.MustNew(
					configdict.Field("batch_dims", 4),
					configdict.Field("shuffle_buffer_size", 128),
					configdict.Field("train_size", trainResolution()),
				)),
			)),
			configdict.Field("tasks", configdict.MustNew(
				configdict.Field("task_names", config.MustOnewayRef("task_names")),
				configdict.Field("kubric_kwargs", configdict.MustNew(
					configdict.Field("prediction_algo", "cost_volume_regressor"),
				)),
			)),
			configdict.Field("training", configdict.MustNew(
				// To sweep the step count, sweep training_steps rather than
				// this field, otherwise decay and stopping disagree.
				configdict.Field("n_training_steps", config.MustOnewayRef("training_steps")),
			)),
		)),
	))

	// Where to store the resulting model.
	set(config, "checkpoint_dir", "checkpoints")
	set(config, "train_checkpoint_all_hosts", false)
	set(config, "evaluate_every", 1000)

	// Evaluate once before loading a checkpoint, which gives metrics at
	// random weights and lets evaluation run without a training job.
	set(config, "eval_initial_weights", true)
	set(config, "jhmdb_path", nil)
	set(config, "robotics_points_path", nil)

	// Reject unrecognized keys from here on.
	return config.Lock()
}

func set(config *configdict.ConfigDict, path string, value any) {
	if err := config.Set(path, value); err != nil {
		panic(fmt.Sprintf("tapnet: %v", err))
	}
}
