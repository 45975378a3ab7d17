package tapnet

import "github.com/eugenenazirov/tapcfg/internal/configdict"

// BaseConfig returns the unlocked defaults every experiment inherits from the
// training harness. Experiments override fields and add their own before
// locking.
func BaseConfig() *configdict.ConfigDict {
	return configdict.MustNew(
		configdict.Field("random_seed", 42),
		configdict.Field("training_steps", 10000),
		configdict.Field("interval_type", "secs"),
		configdict.Field("save_checkpoint_interval", 300),
		configdict.Field("log_tensors_interval", 60),
		configdict.Field("log_train_data_interval", 120.0),
		configdict.Field("log_all_train_data", false),
		configdict.Field("save_initial_train_checkpoint", false),
		configdict.Field("eval_specific_checkpoint_dir", ""),
		configdict.Field("checkpoint_dir", "/tmp/jaxline"),
		configdict.Field("train_checkpoint_all_hosts", false),
		configdict.Field("one_off_evaluate", false),
		configdict.Field("max_checkpoints_to_keep", 5),
		configdict.Field("best_model_eval_metric", ""),
		configdict.Field("best_model_eval_metric_higher_is_better", true),
		configdict.Field("random_mode_train", "unique_host_unique_device"),
		configdict.Field("random_mode_eval", "same_host_same_device"),
		configdict.Field("eval_initial_weights", false),
		configdict.Field("dry_run", false),
		configdict.Field("checkpoint_interval_type", nil),
		configdict.Field("logging_interval_type", nil),
		configdict.Field("experiment_kwargs", configdict.MustNew()),
	)
}
