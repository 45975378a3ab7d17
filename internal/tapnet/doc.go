// Package tapnet declares the experiment configuration used to train the
// TapNet point-tracking model on Kubric. Config assembles the record on top
// of the experiment-harness defaults from BaseConfig and locks it. Validate
// checks the conventions the harness relies on but does not enforce itself.
package tapnet
