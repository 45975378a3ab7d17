package tapnet

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/eugenenazirov/tapcfg/internal/configdict"
)

func TestConfigTopLevelKeys(t *testing.T) {
	t.Parallel()

	want := []string{
		"random_seed",
		"training_steps",
		"interval_type",
		"save_checkpoint_interval",
		"log_tensors_interval",
		"log_train_data_interval",
		"log_all_train_data",
		"save_initial_train_checkpoint",
		"eval_specific_checkpoint_dir",
		"checkpoint_dir",
		"train_checkpoint_all_hosts",
		"one_off_evaluate",
		"max_checkpoints_to_keep",
		"best_model_eval_metric",
		"best_model_eval_metric_higher_is_better",
		"random_mode_train",
		"random_mode_eval",
		"eval_initial_weights",
		"dry_run",
		"checkpoint_interval_type",
		"logging_interval_type",
		"experiment_kwargs",
		"shared_module_names",
		"dataset_names",
		"task_names",
		"eval_modes",
		"evaluate_every",
		"jhmdb_path",
		"robotics_points_path",
	}
	if diff := cmp.Diff(want, Config().Keys()); diff != "" {
		t.Fatalf("unexpected top-level keys (-want +got):\n%s", diff)
	}
}

func TestConfigValues(t *testing.T) {
	t.Parallel()

	cfg := Config()

	ints := map[string]int{
		"training_steps": 500000,
		"evaluate_every": 1000,
		"experiment_kwargs.config.optimizer.cosine_decay_kwargs.warmup_steps": 5000,
		"experiment_kwargs.config.datasets.kubric_kwargs.batch_dims":          4,
		"experiment_kwargs.config.datasets.kubric_kwargs.shuffle_buffer_size": 128,
	}
	for path, want := range ints {
		if got, err := cfg.Int(path); err != nil || got != want {
			t.Fatalf("%s: expected %d, got %d (%v)", path, want, got, err)
		}
	}

	floats := map[string]float64{
		"experiment_kwargs.config.optimizer.base_lr":                        2e-3,
		"experiment_kwargs.config.optimizer.max_norm":                       -1,
		"experiment_kwargs.config.optimizer.weight_decay":                   1e-2,
		"experiment_kwargs.config.optimizer.cosine_decay_kwargs.init_value": 0,
		"experiment_kwargs.config.optimizer.cosine_decay_kwargs.end_value":  0,
		"experiment_kwargs.config.optimizer.adam_kwargs.b1":                 0.9,
		"experiment_kwargs.config.optimizer.adam_kwargs.b2":                 0.95,
		"experiment_kwargs.config.optimizer.adam_kwargs.eps":                1e-8,
	}
	for path, want := range floats {
		if got, err := cfg.Float(path); err != nil || got != want {
			t.Fatalf("%s: expected %v, got %v (%v)", path, want, got, err)
		}
	}

	strs := map[string]string{
		"checkpoint_dir":                                                "checkpoints",
		"experiment_kwargs.config.sweep_name":                           "default_sweep",
		"experiment_kwargs.config.optimizer.schedule_type":              "cosine",
		"experiment_kwargs.config.optimizer.optimizer":                  "adam",
		"experiment_kwargs.config.tasks.kubric_kwargs.prediction_algo": "cost_volume_regressor",
	}
	for path, want := range strs {
		if got, err := cfg.String(path); err != nil || got != want {
			t.Fatalf("%s: expected %q, got %q (%v)", path, want, got, err)
		}
	}

	bools := map[string]bool{
		"eval_initial_weights":                                  true,
		"train_checkpoint_all_hosts":                            false,
		"experiment_kwargs.config.save_final_checkpoint_as_npy": true,
		"experiment_kwargs.config.optimizer.scale_by_batch":     true,
	}
	for path, want := range bools {
		if got, err := cfg.Bool(path); err != nil || got != want {
			t.Fatalf("%s: expected %v, got %v (%v)", path, want, got, err)
		}
	}

	for _, path := range []string{"jhmdb_path", "robotics_points_path"} {
		if v, err := cfg.Get(path); err != nil || v != nil {
			t.Fatalf("%s: expected unset placeholder, got %v (%v)", path, v, err)
		}
	}

	trainSize, err := cfg.Get("experiment_kwargs.config.datasets.kubric_kwargs.train_size")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if diff := cmp.Diff(configdict.Ints(256, 256), trainSize); diff != "" {
		t.Fatalf("unexpected train_size (-want +got):\n%s", diff)
	}

	fast, err := cfg.Strings("experiment_kwargs.config.fast_variables")
	if err != nil {
		t.Fatalf("Strings returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"track_pred", "rescaler_"}, fast); diff != "" {
		t.Fatalf("unexpected fast_variables (-want +got):\n%s", diff)
	}

	kwargs, err := cfg.Dict("experiment_kwargs.config.shared_modules.tapnet_model_kwargs")
	if err != nil || kwargs.Len() != 0 {
		t.Fatalf("expected empty tapnet_model_kwargs, got %v (%v)", kwargs, err)
	}
}

func TestConfigEvalModesPrefix(t *testing.T) {
	t.Parallel()

	modes, err := Config().Strings("eval_modes")
	if err != nil {
		t.Fatalf("Strings returned error: %v", err)
	}
	if len(modes) != 3 {
		t.Fatalf("expected 3 eval modes, got %v", modes)
	}
	for _, mode := range modes {
		if !strings.HasPrefix(mode, "eval_") {
			t.Fatalf("eval mode %q lacks eval_ prefix", mode)
		}
	}
}

var mirrors = map[string]string{
	"experiment_kwargs.config.shared_modules.shared_module_names": "shared_module_names",
	"experiment_kwargs.config.datasets.dataset_names":             "dataset_names",
	"experiment_kwargs.config.tasks.task_names":                   "task_names",
	"experiment_kwargs.config.training.n_training_steps":          "training_steps",
}

func TestConfigMirroredFieldsFollowSources(t *testing.T) {
	t.Parallel()

	cfg := Config()
	for mirror, source := range mirrors {
		if !cfg.IsRef(mirror) {
			t.Fatalf("%s should reference %s", mirror, source)
		}
		got, _ := cfg.Get(mirror)
		want, _ := cfg.Get(source)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s differs from %s (-want +got):\n%s", mirror, source, diff)
		}
	}

	if err := cfg.Set("training_steps", 1234); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := cfg.Set("dataset_names", configdict.Strings("kubric", "davis")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if got, _ := cfg.Int("experiment_kwargs.config.training.n_training_steps"); got != 1234 {
		t.Fatalf("expected n_training_steps to follow training_steps, got %d", got)
	}
	names, _ := cfg.Strings("experiment_kwargs.config.datasets.dataset_names")
	if !slices.Equal(names, []string{"kubric", "davis"}) {
		t.Fatalf("expected dataset_names mirror to follow source, got %v", names)
	}
}

func TestConfigIsLocked(t *testing.T) {
	t.Parallel()

	cfg := Config()
	if !cfg.IsLocked() {
		t.Fatalf("expected config to be locked")
	}
	if err := cfg.Set("trainig_steps", 1); !errors.Is(err, configdict.ErrLocked) {
		t.Fatalf("expected ErrLocked for unknown key, got %v", err)
	}
	if err := cfg.Set("experiment_kwargs.config.optimizer.lr", 1e-3); !errors.Is(err, configdict.ErrLocked) {
		t.Fatalf("expected ErrLocked for unknown nested key, got %v", err)
	}
	if err := cfg.Set("experiment_kwargs.config.optimizer.base_lr", 1e-3); err != nil {
		t.Fatalf("expected known keys to stay assignable: %v", err)
	}
}

func TestConfigCallsAreIndependent(t *testing.T) {
	t.Parallel()

	first := Config()
	second := Config()
	if !first.Equal(second) {
		t.Fatalf("expected two builds to be structurally equal")
	}

	if err := first.Set("training_steps", 1); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := first.Set("experiment_kwargs.config.optimizer.adam_kwargs.b1", 0.5); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	if got, _ := second.Int("training_steps"); got != 500000 {
		t.Fatalf("second build observed first build's write: %d", got)
	}
	if got, _ := second.Int("experiment_kwargs.config.training.n_training_steps"); got != 500000 {
		t.Fatalf("second build's reference observed first build's write: %d", got)
	}
	if got, _ := second.Float("experiment_kwargs.config.optimizer.adam_kwargs.b1"); got != 0.9 {
		t.Fatalf("second build shares nested state: %v", got)
	}
}

func TestTrainSizeIsNotAliased(t *testing.T) {
	cfg := Config()
	saved := TrainSize
	t.Cleanup(func() { TrainSize = saved })

	TrainSize[1] = 1
	got, _ := cfg.Get("experiment_kwargs.config.datasets.kubric_kwargs.train_size")
	if diff := cmp.Diff(configdict.Ints(256, 256), got); diff != "" {
		t.Fatalf("config should copy TrainSize (-want +got):\n%s", diff)
	}
}

func TestBaseConfigIsUnlocked(t *testing.T) {
	t.Parallel()

	base := BaseConfig()
	if base.IsLocked() {
		t.Fatalf("base config must stay open for experiments to extend")
	}
	if got, _ := base.Int("training_steps"); got != 10000 {
		t.Fatalf("unexpected base training_steps %d", got)
	}
	if got, _ := base.String("checkpoint_dir"); got != "/tmp/jaxline" {
		t.Fatalf("unexpected base checkpoint_dir %q", got)
	}
}
