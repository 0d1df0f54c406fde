// Package catalog holds the closed tool catalogue and translates a tool
// selection into concrete command specifications. Adding a tool is a table
// change: each entry declares its executable location, description and a
// command-generation rule.
package catalog

import (
	"fmt"
	"path/filepath"

	"github.com/caseworks/caserunner/internal/discover"
	"github.com/caseworks/caserunner/internal/model"
)

// Context carries everything command generation may read. Profiles, when
// nil, is discovered from <TriageRoot>/Users; Build has no other side
// effects and is safe to call repeatedly.
type Context struct {
	TriageRoot string
	ToolsRoot  string
	OutputRoot string
	// Stamp disambiguates artifacts of timestamped tools. Callers set it
	// once per run so repeated Build calls stay referentially transparent.
	Stamp    string
	Profiles []string
}

// Tool is one catalogue entry.
type Tool struct {
	ID          string
	Exe         string // path relative to the tools root
	Description string
	// ArchiveURL is the fixed remote location of the tool for on-demand
	// provisioning; empty for tools expected to be pre-installed.
	ArchiveURL string

	commands func(b build) []model.CommandSpec
}

type build struct {
	root     string // triage root
	tools    string // tools root
	out      string // output root
	stamp    string
	profiles []string
}

func (b build) exe(rel string) string        { return filepath.Join(b.tools, rel) }
func (b build) data(parts ...string) string  { return filepath.Join(append([]string{b.root}, parts...)...) }
func (b build) csv(name string) string       { return filepath.Join(b.out, name) }
func (b build) user(u string, parts ...string) string {
	return b.data(append([]string{"Users", u}, parts...)...)
}

// Windows event IDs worth extracting during triage (logons, service
// installs, scheduled tasks, PowerShell, RDP and friends).
const evtxIncludeIDs = "4624,4625,4634,4647,4672,4676,4648,1024,1102,4778,4779,131," +
	"98,1149,21,22,25,41,4768,4769,5140,5145,7045,4698,4702,4699," +
	"4700,4701,106,140,141,200,201,7034,7035,7036,7040,5857,5860," +
	"5861,4103,4104,53504,400,401,402,403,800,91,142,169"

// HayabusaArchiveURL is the fixed release archive fetched when the Hayabusa
// binary is absent.
const HayabusaArchiveURL = "https://github.com/Yamato-Security/hayabusa/releases/download/" +
	"v3.2.0/hayabusa-3.2.0-win-x64.zip"

var tools = []Tool{
	{
		ID:          "amcache",
		Exe:         "AmcacheParser.exe",
		Description: "Parses Amcache.hve files to identify applications presence and associated metadata.",
		commands: func(b build) []model.CommandSpec {
			return []model.CommandSpec{{
				Label:      "amcache",
				Executable: b.exe("AmcacheParser.exe"),
				Args: []string{
					"-f", b.data("Windows", "AppCompat", "Programs", "Amcache.hve"),
					"--csv", b.out,
					"--csvf", "amcache_parsed.csv",
				},
				OutputArtifact: b.csv("amcache_parsed.csv"),
			}}
		},
	},
	{
		ID:          "shimcache",
		Exe:         "AppCompatCacheParser.exe",
		Description: "Analyzes AppCompatCache (ShimCache) to track the executable file path and binary last modified time.",
		commands: func(b build) []model.CommandSpec {
			return []model.CommandSpec{{
				Label:      "shimcache",
				Executable: b.exe("AppCompatCacheParser.exe"),
				Args: []string{
					"-f", b.data("Windows", "System32", "config", "SYSTEM"),
					"--csv", b.out,
					"--csvf", "shimcache_parsed.csv",
				},
				OutputArtifact: b.csv("shimcache_parsed.csv"),
			}}
		},
	},
	{
		ID:          "evtx",
		Exe:         filepath.Join("EvtxECmd", "EvtxECmd.exe"),
		Description: "Parses Windows Event Log (.evtx) files, extracting events for forensic analysis.",
		commands: func(b build) []model.CommandSpec {
			return []model.CommandSpec{{
				Label:      "evtx",
				Executable: b.exe(filepath.Join("EvtxECmd", "EvtxECmd.exe")),
				Args: []string{
					"-d", b.data("Windows", "System32", "winevt", "logs"),
					"--csv", b.out,
					"--csvf", "evtx_parsed.csv",
					"--inc", evtxIncludeIDs,
				},
				OutputArtifact: b.csv("evtx_parsed.csv"),
			}}
		},
	},
	{
		ID:          "jumplist",
		Exe:         "JLECmd.exe",
		Description: "Parses Jump List files (automatic and custom destinations) to uncover recent file and application usage.",
		commands: func(b build) []model.CommandSpec {
			var specs []model.CommandSpec
			for _, u := range b.profiles {
				specs = append(specs, model.CommandSpec{
					Label:      "jumplist/" + u,
					Executable: b.exe("JLECmd.exe"),
					Args: []string{
						"-d", b.user(u, "AppData", "Roaming", "Microsoft", "Windows", "Recent", "AutomaticDestinations"),
						"--csv", b.out,
						"--csvf", fmt.Sprintf("jumplist_%s_parsed.csv", u),
						"-q",
					},
					OutputArtifact: b.csv(fmt.Sprintf("jumplist_%s_parsed.csv", u)),
				})
			}
			return specs
		},
	},
	{
		ID:          "lnk",
		Exe:         "LECmd.exe",
		Description: "Analyzes Windows shortcut (.lnk) files to extract metadata about file access and usage.",
		commands: func(b build) []model.CommandSpec {
			var specs []model.CommandSpec
			for _, u := range b.profiles {
				specs = append(specs, model.CommandSpec{
					Label:      "lnk/" + u,
					Executable: b.exe("LECmd.exe"),
					Args: []string{
						"-d", b.user(u, "AppData", "Roaming", "Microsoft", "Windows", "Recent"),
						"--csv", b.out,
						"--csvf", fmt.Sprintf("lnk_%s_parsed.csv", u),
						"-q",
					},
					OutputArtifact: b.csv(fmt.Sprintf("lnk_%s_parsed.csv", u)),
				})
			}
			return specs
		},
	},
	{
		ID:          "mft",
		Exe:         "MFTECmd.exe",
		Description: "Parses the Master File Table ($MFT) from NTFS file systems to reveal file system activity.",
		commands: func(b build) []model.CommandSpec {
			return []model.CommandSpec{
				{
					Label:      "mft",
					Executable: b.exe("MFTECmd.exe"),
					Args: []string{
						"-f", b.data("$MFT"),
						"--csv", b.out,
						"--csvf", "mft_parsed.csv",
					},
					OutputArtifact: b.csv("mft_parsed.csv"),
				},
				{
					Label:      "usn",
					Executable: b.exe("MFTECmd.exe"),
					Args: []string{
						"-f", b.data("$Extend", "$J"),
						"-m", b.data("$MFT"),
						"--csv", b.out,
						"--csvf", "usn_parsed.csv",
					},
					OutputArtifact: b.csv("usn_parsed.csv"),
				},
			}
		},
	},
	{
		ID:          "prefetch",
		Exe:         "PECmd.exe",
		Description: "Analyzes Windows Prefetch (.pf) files to determine application execution history and frequency.",
		commands: func(b build) []model.CommandSpec {
			return []model.CommandSpec{{
				Label:      "prefetch",
				Executable: b.exe("PECmd.exe"),
				Args: []string{
					"-d", b.data("Windows", "prefetch"),
					"--csv", b.out,
					"--csvf", "prefetch_parsed.csv",
					"-q",
					"--vss",
				},
				OutputArtifact: b.csv("prefetch_parsed.csv"),
			}}
		},
	},
	{
		ID:          "registry",
		Exe:         filepath.Join("RECmd", "RECmd.exe"),
		Description: "Provides command-line access to parse and analyze Windows Registry hives for forensic artifacts.",
		commands: func(b build) []model.CommandSpec {
			var specs []model.CommandSpec
			for _, u := range b.profiles {
				specs = append(specs, model.CommandSpec{
					Label:      "userassist/" + u,
					Executable: b.exe(filepath.Join("RECmd", "RECmd.exe")),
					Args: []string{
						"-f", b.user(u, "NTUSER.DAT"),
						"--bn", b.exe(filepath.Join("RECmd", "BatchExamples", "BatchExampleUserAssist.reb")),
						"--csv", filepath.Join(b.out, "UserAssist"),
						"--csvf", fmt.Sprintf("userassist_%s.csv", u),
						"--nl",
					},
					OutputArtifact: filepath.Join(b.out, "UserAssist", fmt.Sprintf("userassist_%s.csv", u)),
				})
			}
			specs = append(specs, model.CommandSpec{
				Label:      "registry",
				Executable: b.exe(filepath.Join("RECmd", "RECmd.exe")),
				Args: []string{
					"-d", b.root,
					"--bn", b.exe(filepath.Join("RECmd", "BatchExamples", "DFIRBatch.reb")),
					"--csv", filepath.Join(b.out, "Registry"),
					"--nl",
				},
				OutputArtifact: filepath.Join(b.out, "Registry"),
			})
			return specs
		},
	},
	{
		ID:          "shellbag",
		Exe:         "SBECmd.exe",
		Description: "Parses ShellBag data to uncover folder access history and user navigation patterns.",
		commands: func(b build) []model.CommandSpec {
			var specs []model.CommandSpec
			for _, u := range b.profiles {
				specs = append(specs, model.CommandSpec{
					Label:      "shellbag/" + u,
					Executable: b.exe("SBECmd.exe"),
					Args: []string{
						"-d", b.user(u),
						"--csv", filepath.Join(b.out, "ShellBag"),
					},
					OutputArtifact: filepath.Join(b.out, "ShellBag"),
				})
			}
			return specs
		},
	},
	{
		ID:          "hayabusa",
		Exe:         filepath.Join("Hayabusa", "hayabusa-3.2.0-win-x64.exe"),
		Description: "Generates a Sigma-based detection timeline from Windows event logs.",
		ArchiveURL:  HayabusaArchiveURL,
		commands: func(b build) []model.CommandSpec {
			artifact := filepath.Join(b.out, "Hayabusa", fmt.Sprintf("hayabusa_%s.csv", b.stamp))
			return []model.CommandSpec{{
				Label:      "hayabusa",
				Executable: b.exe(filepath.Join("Hayabusa", "hayabusa-3.2.0-win-x64.exe")),
				Args: []string{
					"csv-timeline",
					"-d", b.data("Windows", "System32", "winevt", "logs"),
					"--no-color",
					"--no-wizard",
					"-o", artifact,
				},
				OutputArtifact: artifact,
			}}
		},
	},
}

var byID = func() map[string]Tool {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.ID] = t
	}
	return m
}()

// Tools returns the catalogue in its canonical order.
func Tools() []Tool {
	out := make([]Tool, len(tools))
	copy(out, tools)
	return out
}

// Lookup returns the catalogue entry for id.
func Lookup(id string) (Tool, bool) {
	t, ok := byID[id]
	return t, ok
}

// Build resolves a tool selection into command specs, in selection order.
// The selection is a set: duplicate identifiers collapse to their first
// occurrence, keeping job labels unique within the batch. Unrecognized
// identifiers are skipped and returned so the caller can surface a warning;
// they never abort the build. Entity-parameterized tools contribute one spec
// per discovered profile, possibly zero.
func Build(selection []string, ctx Context) ([]model.CommandSpec, []string) {
	profiles := ctx.Profiles
	if profiles == nil {
		profiles = discover.Profiles(filepath.Join(ctx.TriageRoot, "Users"))
	}

	b := build{
		root:     ctx.TriageRoot,
		tools:    ctx.ToolsRoot,
		out:      ctx.OutputRoot,
		stamp:    ctx.Stamp,
		profiles: profiles,
	}

	var specs []model.CommandSpec
	var unknown []string
	seen := make(map[string]struct{}, len(selection))
	for _, id := range selection {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tool, ok := byID[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		specs = append(specs, tool.commands(b)...)
	}
	return specs, unknown
}
