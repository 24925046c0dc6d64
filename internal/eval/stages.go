package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"
)

// Stage names used by the default pipeline.
const (
	StageMaterialize = "materialize"
	StageSimulate    = "simulate"
	StagePostprocess = "postprocess"
)

// DefaultModelFile is the materialized model's file name inside generated/.
const DefaultModelFile = "model.json"

// StageData is the template context for model templates and command arguments.
type StageData struct {
	Slot      int
	Workspace string
	Working   string
	Generated string
	Output    string
	Model     string
	Params    map[string]float64
	P         []float64
	Files     map[string]string
}

func newStageData(job *Job, modelFile string, files map[string]string) StageData {
	ws := job.Workspace
	return StageData{
		Slot:      ws.Slot,
		Workspace: ws.Root,
		Working:   ws.Working(),
		Generated: ws.Generated(),
		Output:    ws.Output(),
		Model:     filepath.Join(ws.Generated(), modelFile),
		Params:    job.Values,
		P:         job.Candidate.X,
		Files:     files,
	}
}

// TemplateMaterializer writes the concrete model description for a
// candidate: generated/parameters.json always, and generated/<ModelFile>
// rendered from TemplatePath when one is configured.
type TemplateMaterializer struct {
	TemplatePath string
	ModelFile    string

	tmpl *template.Template
}

// NewTemplateMaterializer parses the model template once up front.
func NewTemplateMaterializer(templatePath, modelFile string) (*TemplateMaterializer, error) {
	if modelFile == "" {
		modelFile = DefaultModelFile
	}
	m := &TemplateMaterializer{TemplatePath: templatePath, ModelFile: modelFile}
	if templatePath == "" {
		return m, nil
	}
	tmpl, err := template.New(filepath.Base(templatePath)).Option("missingkey=error").ParseFiles(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model template: %w", err)
	}
	m.tmpl = tmpl
	return m, nil
}

func (m *TemplateMaterializer) Name() string { return StageMaterialize }

// Run renders the model into the workspace.
func (m *TemplateMaterializer) Run(ctx context.Context, job *Job) error {
	ws := job.Workspace

	params, err := json.MarshalIndent(struct {
		Slot   int                `json:"slot"`
		P      []float64          `json:"p"`
		Values map[string]float64 `json:"values"`
	}{ws.Slot, job.Candidate.X, job.Values}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize parameters: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Generated(), "parameters.json"), params, 0644); err != nil {
		return fmt.Errorf("failed to write parameters: %w", err)
	}

	if m.tmpl == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := m.tmpl.Execute(&buf, newStageData(job, m.ModelFile, nil)); err != nil {
		return fmt.Errorf("failed to render model template: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Generated(), m.ModelFile), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// CommandStage runs an external program synchronously in the workspace's
// working directory. Arguments are templates over StageData, so the fixed
// argument convention of the simulator (model, options, protocol, results)
// is expressed in configuration. The exit code is the only success signal.
type CommandStage struct {
	StageName string
	Command   string
	Args      []string
	Files     map[string]string
	ModelFile string
	Env       []string

	// Timeout bounds the child process; zero means no limit.
	Timeout time.Duration

	args []*template.Template
}

// NewCommandStage parses the argument templates.
func NewCommandStage(name, command string, args []string, files map[string]string, timeout time.Duration) (*CommandStage, error) {
	if command == "" {
		return nil, fmt.Errorf("stage %s: command cannot be empty", name)
	}
	s := &CommandStage{
		StageName: name,
		Command:   command,
		Args:      args,
		Files:     files,
		ModelFile: DefaultModelFile,
		Timeout:   timeout,
	}
	for i, arg := range args {
		tmpl, err := template.New(fmt.Sprintf("%s-arg-%d", name, i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("stage %s: argument %d: %w", name, i, err)
		}
		s.args = append(s.args, tmpl)
	}
	return s, nil
}

func (s *CommandStage) Name() string { return s.StageName }

// Run executes the command and writes its combined output to
// working/<stage>.log.
func (s *CommandStage) Run(ctx context.Context, job *Job) error {
	data := newStageData(job, s.ModelFile, s.Files)
	args := make([]string, len(s.args))
	for i, tmpl := range s.args {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("failed to expand argument %d: %w", i, err)
		}
		args[i] = buf.String()
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	logPath := filepath.Join(job.Workspace.Working(), s.StageName+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create stage log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, s.Command, args...)
	cmd.Dir = job.Workspace.Working()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s (log: %s)", s.Command, s.Timeout, logPath)
		}
		return fmt.Errorf("%s failed: %w (log: %s)", s.Command, err, logPath)
	}
	return nil
}
