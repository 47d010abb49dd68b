package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"nbexec/internal/namespace"
	"nbexec/internal/staging"
)

// 编译时通过 -ldflags 注入; 未注入时从模块构建信息补全
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo 构建信息
type BuildInfo struct {
	Version      string   `json:"version"`
	Contract     string   `json:"contract"`
	InputFormats []string `json:"input_formats"`
	Runtime      string   `json:"runtime"`
	GitCommit    string   `json:"git_commit"`
	BuildTime    string   `json:"build_time"`
	GoVersion    string   `json:"go_version"`
	OS           string   `json:"os"`
	Arch         string   `json:"arch"`
}

// currentBuildInfo 汇总版本, 合约和运行时信息
func currentBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:      Version,
		Contract:     namespace.ContractVersion,
		InputFormats: []string{staging.HintCSV, staging.HintXPT, staging.HintPDF},
		Runtime:      "goja",
		GitCommit:    GitCommit,
		BuildTime:    BuildTime,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, dep := range bi.Deps {
		if dep.Path == "github.com/dop251/goja" {
			info.Runtime = "goja " + dep.Version
		}
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" && len(s.Value) >= 7 {
				info.GitCommit = s.Value[:7]
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		}
	}
	return info
}

// NewVersionCmd 创建 version 命令
func NewVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version, wire contract and runtime information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentBuildInfo()
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, info)
			}
			fmt.Fprintf(out, "nbexec %s (contract %s)\n", info.Version, info.Contract)
			fmt.Fprintf(out, "  Runtime:    %s\n", info.Runtime)
			fmt.Fprintf(out, "  Inputs:     %s\n", strings.Join(info.InputFormats, ", "))
			fmt.Fprintf(out, "  Git commit: %s\n", info.GitCommit)
			fmt.Fprintf(out, "  Built:      %s %s %s/%s\n", info.BuildTime, info.GoVersion, info.OS, info.Arch)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
