package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caseworks/caserunner/internal/catalog"
	"github.com/caseworks/caserunner/internal/events"
	"github.com/caseworks/caserunner/internal/log"
	"github.com/caseworks/caserunner/internal/model"
	"github.com/caseworks/caserunner/internal/orchestrator"
	"github.com/caseworks/caserunner/internal/provision"
	"github.com/caseworks/caserunner/internal/runner"
	"github.com/caseworks/caserunner/internal/statusd"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	flagTriageDir string
	flagTools     []string
	flagYes       bool
	flagImage     string
	flagPlugins   []string
)

func doRun(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("caserunner",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))

	selection := flagTools
	if len(selection) == 0 {
		for _, t := range catalog.Tools() {
			selection = append(selection, t.ID)
		}
	}

	specs, unknown := catalog.Build(selection, catalog.Context{
		TriageRoot: flagTriageDir,
		ToolsRoot:  config.Tools,
		OutputRoot: config.Output,
		Stamp:      time.Now().Format("20060102150405"),
	})
	for _, id := range unknown {
		slog.WarnContext(ctx, "unknown tool, skipping", "tool", id)
	}
	if len(specs) == 0 {
		return fmt.Errorf("selection %v produced no commands", selection)
	}

	// tools write their CSVs into fixed subdirectories, create them up front
	for _, sub := range []string{"", "UserAssist", "Registry", "ShellBag", "Hayabusa"} {
		if err := os.MkdirAll(filepath.Join(config.Output, sub), 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	var requires string
	for _, id := range selection {
		if t, ok := catalog.Lookup(id); ok && t.ArchiveURL != "" {
			requires = t.ID
		}
	}

	return execute(ctx, model.Batch{
		ID:       uuid.NewString(),
		Specs:    specs,
		Topology: model.Sequential(),
		Requires: requires,
	})
}

func doMem(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("caserunner",
		slog.String("cmd", "mem"),
		slog.Int("pid", os.Getpid()),
	))

	mctx := catalog.MemoryContext{
		Volatility: filepath.Join(config.Tools, catalog.VolatilityExe),
		ImagePath:  flagImage,
		OS:         config.Memory.OS,
		OutputRoot: config.Output,
	}
	specs, unknown := catalog.BuildMemory(flagPlugins, mctx)
	for _, name := range unknown {
		slog.WarnContext(ctx, "unknown plugin, skipping", "plugin", name)
	}
	if len(specs) == 0 {
		return fmt.Errorf("selection %v produced no commands", flagPlugins)
	}

	if err := os.MkdirAll(filepath.Join(config.Output, "memory"), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	probe := catalog.MemoryProbe(mctx)
	return execute(ctx, model.Batch{
		ID:       uuid.NewString(),
		Specs:    specs,
		Topology: model.Bounded(config.Memory.Concurrency),
		Probe:    &probe,
		Requires: "volatility",
	})
}

func execute(ctx context.Context, batch model.Batch) error {
	var decider provision.Decider
	if !flagYes {
		decider = promptDecider()
	}
	prov := &toolProvisioner{
		installer: provision.NewInstaller(decider),
		toolsRoot: config.Tools,
	}

	orch := orchestrator.New(runner.New(), prov)

	sinks := []events.Sink{consoleSink{}}
	if config.Status != nil && config.Status.Enabled {
		buffer := events.NewBuffer(0)
		sinks = append(sinks, buffer)

		srv := statusd.New(config.Status.Listen, orch, buffer)
		srvCtx, stopSrv := context.WithCancel(ctx)
		defer stopSrv()
		go func() {
			if err := srv.Run(srvCtx); err != nil {
				slog.ErrorContext(ctx, "status server failed", "err", err)
			}
		}()
	}

	summary, err := orch.Run(ctx, batch, events.Multi(sinks...))
	if err != nil {
		return err
	}
	if len(summary.Failed) > 0 {
		slog.WarnContext(ctx, "batch finished with failures", "failed", len(summary.Failed))
	}
	return nil
}

// toolProvisioner resolves a tool name to its archive and installs it on
// demand.
type toolProvisioner struct {
	installer *provision.Installer
	toolsRoot string
}

func (p *toolProvisioner) Ensure(ctx context.Context, tool string) (provision.Status, error) {
	archive, err := p.archive(tool)
	if err != nil {
		return provision.Declined, err
	}
	return p.installer.Ensure(ctx, archive)
}

func (p *toolProvisioner) archive(tool string) (provision.Archive, error) {
	if tool == "volatility" {
		exe := filepath.Join(p.toolsRoot, catalog.VolatilityExe)
		return provision.Archive{
			Tool: tool,
			URL:  catalog.VolatilityArchiveURL,
			Exe:  exe,
			Dir:  filepath.Dir(exe),
		}, nil
	}
	t, ok := catalog.Lookup(tool)
	if !ok || t.ArchiveURL == "" {
		return provision.Archive{}, fmt.Errorf("no archive known for tool %s", tool)
	}
	exe := filepath.Join(p.toolsRoot, t.Exe)
	return provision.Archive{
		Tool: t.ID,
		URL:  t.ArchiveURL,
		Exe:  exe,
		Dir:  filepath.Dir(exe),
	}, nil
}

func promptDecider() provision.DeciderFunc {
	reader := bufio.NewReader(os.Stdin)
	return func(_ context.Context, tool string) bool {
		fmt.Printf("%s is not installed. Download and install it now? [y/N] ", tool)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

// consoleSink prints run progress for the operator at the terminal.
type consoleSink struct{}

func (consoleSink) BatchStarted(batch model.Batch) {
	fmt.Printf("running %d jobs (%s)\n", len(batch.Specs), batch.Topology)
}

func (consoleSink) JobStarted(label string) {
	fmt.Printf("[%s] started\n", label)
}

func (consoleSink) OutputLine(label, line string) {
	fmt.Printf("[%s] %s\n", label, line)
}

func (consoleSink) JobFinished(label string, err error) {
	if err != nil {
		fmt.Printf("[%s] failed: %v\n", label, err)
		return
	}
	fmt.Printf("[%s] done\n", label)
}

func (consoleSink) BatchFinished(summary model.Summary) {
	fmt.Println(summary.String())
}
