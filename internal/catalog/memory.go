package catalog

import (
	"path/filepath"

	"github.com/caseworks/caserunner/internal/model"
)

// Plugin is one memory-analysis plugin of the catalogue. Renderer selects
// the analyzer output format; Ext names the captured artifact's extension.
type Plugin struct {
	Name     string
	Renderer string
	Ext      string
}

// VolatilityExe is the analyzer's location relative to the tools root.
const VolatilityExe = "Volatility3/vol.exe"

// VolatilityArchiveURL is the fixed release archive fetched when the
// analyzer is absent.
const VolatilityArchiveURL = "https://github.com/volatilityfoundation/volatility3/archive/refs/tags/v2.11.0.zip"

var plugins = []Plugin{
	{Name: "pstree", Renderer: "pretty", Ext: "txt"},
	{Name: "pslist", Renderer: "csv", Ext: "csv"},
	{Name: "psscan", Renderer: "csv", Ext: "csv"},
	{Name: "netscan", Renderer: "csv", Ext: "csv"},
	{Name: "cmdline", Renderer: "csv", Ext: "csv"},
	{Name: "getsids", Renderer: "csv", Ext: "csv"},
	{Name: "malfind", Renderer: "csv", Ext: "csv"},
	{Name: "ldrmodules", Renderer: "csv", Ext: "csv"},
	{Name: "ssdt", Renderer: "csv", Ext: "csv"},
}

// Plugins returns the memory-analysis plugin set in canonical order.
func Plugins() []Plugin {
	out := make([]Plugin, len(plugins))
	copy(out, plugins)
	return out
}

// MemoryContext parameterizes memory-analysis command generation.
type MemoryContext struct {
	Volatility string // analyzer executable
	ImagePath  string // memory dump
	OS         string // windows | linux | mac
	OutputRoot string
}

// BuildMemory resolves a plugin selection into command specs. An empty
// selection means the whole plugin set; duplicate names collapse to their
// first occurrence. Plugins print their results to stdout, so every spec
// captures output into its artifact file. Unrecognized plugin names are
// returned for warning, same contract as Build.
func BuildMemory(selection []string, ctx MemoryContext) ([]model.CommandSpec, []string) {
	if len(selection) == 0 {
		selection = make([]string, 0, len(plugins))
		for _, p := range plugins {
			selection = append(selection, p.Name)
		}
	}

	index := make(map[string]Plugin, len(plugins))
	for _, p := range plugins {
		index[p.Name] = p
	}

	var specs []model.CommandSpec
	var unknown []string
	seen := make(map[string]struct{}, len(selection))
	for _, name := range selection {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		p, ok := index[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		specs = append(specs, model.CommandSpec{
			Label:      p.Name,
			Executable: ctx.Volatility,
			Args: []string{
				"-f", ctx.ImagePath,
				"-r", p.Renderer,
				ctx.OS + "." + p.Name,
			},
			OutputArtifact: filepath.Join(ctx.OutputRoot, "memory", p.Name+"."+p.Ext),
			CaptureStdout:  true,
		})
	}
	return specs, unknown
}

// MemoryProbe is the pre-flight command validating that the analyzer has a
// symbol table for the image. A non-zero exit means the dump cannot be
// analyzed and the whole batch must not run.
func MemoryProbe(ctx MemoryContext) model.CommandSpec {
	return model.CommandSpec{
		Label:      "imageinfo",
		Executable: ctx.Volatility,
		Args: []string{
			"-f", ctx.ImagePath,
			ctx.OS + ".info",
		},
	}
}
