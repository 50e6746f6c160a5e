package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/ciweave/internal/artifact"
	"github.com/kingrea/ciweave/internal/config"
	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/orchestrator"
	"github.com/kingrea/ciweave/internal/schema"
	"github.com/kingrea/ciweave/internal/tui"
)

// pathFlag binds a directory/file flag to a project setting.
type pathFlag struct {
	name   string
	usage  string
	value  string
	target func(*config.ProjectConfig) *string
}

func bindPaths(cmd *cobra.Command, flags []*pathFlag) {
	for _, f := range flags {
		cmd.Flags().StringVar(&f.value, f.name, "", f.usage)
	}
}

func applyPaths(cfg *config.Config, flags []*pathFlag) error {
	for _, f := range flags {
		if f.value == "" {
			continue
		}
		if err := config.SetPath(f.target(&cfg.Project), f.value); err != nil {
			return err
		}
	}
	return nil
}

func outFlag() *pathFlag {
	return &pathFlag{name: "out", usage: "Output directory for compiled files", target: func(p *config.ProjectConfig) *string { return &p.OutputDir }}
}

func (a *app) compileCommand() *cobra.Command {
	paths := []*pathFlag{
		{name: "in", usage: "Uncompiled input directory", target: func(p *config.ProjectConfig) *string { return &p.InputDir }},
		outFlag(),
		{name: "scripts", usage: "Script catalogue root (default: input directory)", target: func(p *config.ProjectConfig) *string { return &p.ScriptsDir }},
		{name: "templates-in", usage: "Template source directory", target: func(p *config.ProjectConfig) *string { return &p.TemplatesIn }},
		{name: "templates-out", usage: "Compiled template directory", target: func(p *config.ProjectConfig) *string { return &p.TemplatesOut }},
		{name: "allowed-root", usage: "Boundary script references may not escape", target: func(p *config.ProjectConfig) *string { return &p.AllowedRoot }},
		{name: "global-variables", usage: "KEY=VALUE file merged into the root document", target: func(p *config.ProjectConfig) *string { return &p.GlobalVariables }},
	}
	var (
		threshold   int
		parallelism int
		dryRun      bool
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Inline referenced scripts into the pipeline YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.setup(func(cfg *config.Config) error {
				if cmd.Flags().Changed("threshold") {
					cfg.Project.Threshold = &threshold
				}
				if cmd.Flags().Changed("parallelism") {
					cfg.Project.Parallelism = parallelism
				}
				if dryRun {
					cfg.Project.DryRun = true
				}
				if force {
					cfg.Project.Force = true
				}
				return applyPaths(cfg, paths)
			})
			if err != nil {
				return err
			}
			defer s.close()
			res, err := s.orch.Compile(cmd.Context())
			a.printCompile(s.cfg, res)
			return compileError(res, err)
		},
	}
	bindPaths(cmd, paths)
	cmd.Flags().IntVar(&threshold, "threshold", config.DefaultThreshold, "Inlined lines above which a field becomes one literal block")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Worker count for large batches (default: CPU count)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite compiled files that were edited by hand")
	return cmd
}

func (a *app) printCompile(cfg *config.Config, res orchestrator.Result) {
	for _, f := range res.Files {
		label := string(f.Outcome)
		if f.Failed() {
			label = "failed"
			if failure.Is(f.Err, failure.KindDriftDetected) {
				label = string(artifact.StateDrifted)
			}
		}
		fmt.Fprintf(a.stdout, "%s %s\n", tui.Badge(label), relTo(cfg.ProjectDir, f.Output))
		if f.Diff != "" {
			fmt.Fprintln(a.stdout, tui.RenderDiff(f.Diff))
		}
	}
}

// compileError decides the command error: drift alone reports as drift,
// anything else as a compile failure.
func compileError(res orchestrator.Result, err error) error {
	errs := res.Errors()
	drifted := res.Drifted()
	if len(errs) > 0 && len(drifted) == len(errs) {
		return &failure.Error{
			Kind: failure.KindDriftDetected,
			Err:  fmt.Errorf("%d compiled file(s) were edited by hand; review the diff and rerun with --force to overwrite", len(drifted)),
		}
	}
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d file(s) failed to compile", len(errs), len(res.Files))
	}
	return nil
}

func (a *app) decompileCommand() *cobra.Command {
	paths := []*pathFlag{
		{name: "in-file", usage: "Compiled pipeline file to decompile", target: func(p *config.ProjectConfig) *string { return &p.Decompile.InputFile }},
		{name: "out", usage: "Directory receiving the rewritten pipeline file", target: func(p *config.ProjectConfig) *string { return &p.Decompile.OutputDir }},
		{name: "scripts-out", usage: "Directory receiving extracted scripts (default: <out>/scripts)", target: func(p *config.ProjectConfig) *string { return &p.Decompile.ScriptsOut }},
	}
	var (
		minLines int
		dryRun   bool
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "decompile",
		Short: "Extract inline script blocks into script files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.setup(func(cfg *config.Config) error {
				if cmd.Flags().Changed("min-lines") {
					cfg.Project.Decompile.MinLines = minLines
				}
				if dryRun {
					cfg.Project.DryRun = true
				}
				if force {
					cfg.Project.Force = true
				}
				return applyPaths(cfg, paths)
			})
			if err != nil {
				return err
			}
			defer s.close()
			res, err := s.orch.Decompile(cmd.Context())
			if err != nil {
				return err
			}
			for _, script := range res.Scripts {
				fmt.Fprintf(a.stdout, "%s %s %s\n", tui.Badge("written"), relTo(s.cfg.ProjectDir, script.Path), tui.Muted(script.Job+"."+script.Field))
			}
			fmt.Fprintf(a.stdout, "Extracted %d script(s) from %d job(s)\n", len(res.Scripts), res.Jobs)
			return nil
		},
	}
	bindPaths(cmd, paths)
	cmd.Flags().IntVar(&minLines, "min-lines", 0, "Leave fields shorter than this inline")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be extracted without writing")
	cmd.Flags().BoolVar(&force, "force", false, "Allow the output to replace the input file")
	return cmd
}

func (a *app) detectDriftCommand() *cobra.Command {
	out := outFlag()
	cmd := &cobra.Command{
		Use:   "detect-drift",
		Short: "Report compiled files that were edited after compilation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.setup(func(cfg *config.Config) error {
				return applyPaths(cfg, []*pathFlag{out})
			})
			if err != nil {
				return err
			}
			defer s.close()
			reports, err := s.orch.DetectDrift(cmd.Context())
			if err != nil {
				return err
			}
			problems := 0
			for _, r := range reports {
				if r.State == artifact.StateClean {
					s.log.Debugf("%s is clean", r.Path)
					continue
				}
				problems++
				fmt.Fprintf(a.stdout, "%s %s\n", tui.Badge(string(r.State)), relTo(s.cfg.ProjectDir, r.Path))
				if r.Diff != "" {
					fmt.Fprintln(a.stdout, tui.RenderDiff(r.Diff))
				}
			}
			fmt.Fprintf(a.stdout, "%d of %d compiled file(s) need attention\n", problems, len(reports))
			return nil
		},
	}
	bindPaths(cmd, []*pathFlag{out})
	return cmd
}

func (a *app) cleanCommand() *cobra.Command {
	out := outFlag()
	var (
		yes    bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove compiled files and their fingerprint records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.setup(func(cfg *config.Config) error {
				if dryRun {
					cfg.Project.DryRun = true
				}
				return applyPaths(cfg, []*pathFlag{out})
			})
			if err != nil {
				return err
			}
			defer s.close()
			plan, err := s.orch.PlanClean()
			if err != nil {
				return err
			}
			confirmed := yes
			if !yes && len(plan.Drifted) > 0 {
				paths := make([]string, 0, len(plan.Drifted))
				for _, r := range plan.Drifted {
					paths = append(paths, relTo(s.cfg.ProjectDir, r.Path))
				}
				confirmed, err = tui.RunConfirm(paths, a.stdin, a.stderr)
				if err != nil {
					s.log.Warnf("confirmation unavailable, keeping edited files: %v", err)
					confirmed = false
				}
			}
			removed, err := s.orch.Clean(plan, confirmed)
			if err != nil {
				return err
			}
			verb := "Removed"
			if s.cfg.Project.DryRun {
				verb = "Would remove"
			}
			fmt.Fprintf(a.stdout, "%s %d compiled file(s)\n", verb, removed)
			return nil
		},
	}
	bindPaths(cmd, []*pathFlag{out})
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Also remove files edited by hand without asking")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be removed")
	return cmd
}

func (a *app) lintCommand() *cobra.Command {
	schemaFlag := &pathFlag{name: "schema", usage: "Local JSON schema for pipeline files", target: func(p *config.ProjectConfig) *string { return &p.Schema }}
	out := outFlag()
	cmd := &cobra.Command{
		Use:   "lint [file...]",
		Short: "Validate compiled pipeline files against a JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.setup(func(cfg *config.Config) error {
				return applyPaths(cfg, []*pathFlag{schemaFlag, out})
			})
			if err != nil {
				return err
			}
			defer s.close()
			if s.cfg.SchemaPath() == "" {
				return failure.New(failure.KindConfigInvalid, "no schema configured; pass --schema")
			}
			validator, err := schema.Load(s.cfg.SchemaPath())
			if err != nil {
				return err
			}
			files := args
			if len(files) == 0 {
				root := orchestrator.FindRootDocument(s.cfg.OutputDir())
				if root == "" {
					return failure.New(failure.KindInputNotFound, "no compiled pipeline file in %s", s.cfg.OutputDir())
				}
				files = []string{root}
			}
			var errs []error
			for _, file := range files {
				if err := validator.LintFile(file); err != nil {
					fmt.Fprintf(a.stdout, "%s %s\n", tui.Badge("failed"), file)
					fmt.Fprintf(a.stdout, "  %v\n", err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(a.stdout, "%s %s\n", tui.Badge("clean"), file)
			}
			return errors.Join(errs...)
		},
	}
	bindPaths(cmd, []*pathFlag{schemaFlag, out})
	return cmd
}

func relTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
