package calib

import (
	"time"

	"github.com/cwbudde/swarmcal/internal/config"
	"github.com/cwbudde/swarmcal/internal/eval"
)

// NewPipeline builds the materialize, simulate and optional postprocess
// stages described by the evaluation section. Template problems are
// reported as *config.ConfigurationError.
func NewPipeline(cfg *config.Config) (*eval.Pipeline, error) {
	ec := cfg.Evaluation
	timeout, err := ec.GetTimeout()
	if err != nil {
		return nil, &config.ConfigurationError{Field: "evaluation.timeout", Reason: err.Error()}
	}

	materialize, err := eval.NewTemplateMaterializer(ec.ModelTemplate, ec.ModelFile)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "evaluation.model_template", Reason: err.Error()}
	}
	stages := []eval.Stage{materialize}

	simulate, err := newCommandStage(eval.StageSimulate, ec.Simulator, ec.Files, materialize.ModelFile, timeout)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "evaluation.simulator", Reason: err.Error()}
	}
	stages = append(stages, simulate)

	if ec.Postprocess.Command != "" {
		post, err := newCommandStage(eval.StagePostprocess, ec.Postprocess, ec.Files, materialize.ModelFile, timeout)
		if err != nil {
			return nil, &config.ConfigurationError{Field: "evaluation.postprocess", Reason: err.Error()}
		}
		stages = append(stages, post)
	}

	return eval.NewPipeline(cfg.Space(), ec.ResultFile, stages...), nil
}

func newCommandStage(name string, cc config.CommandConfig, files map[string]string, modelFile string, timeout time.Duration) (*eval.CommandStage, error) {
	stage, err := eval.NewCommandStage(name, cc.Command, cc.Args, files, timeout)
	if err != nil {
		return nil, err
	}
	stage.ModelFile = modelFile
	stage.Env = cc.Env
	return stage, nil
}
