package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"nbexec/internal/executor"
	"nbexec/internal/namespace"
	"nbexec/internal/staging"
)

// ExecOptions exec 命令选项
type ExecOptions struct {
	Code      string
	InputURL  string
	OutputURL string
	Hint      string
	Timeout   int
	Session   string
	Server    string
	JSON      bool
}

// NewExecCmd 创建 exec 命令
func NewExecCmd() *cobra.Command {
	opts := &ExecOptions{}

	cmd := &cobra.Command{
		Use:   "exec [file|-]",
		Short: "Execute one cell",
		Long: `Execute one cell and print its output.

The cell is read from --code, from the file argument, or from stdin. With
--session the prior state is read from the given JSON file and the new state
is written back to it. With --server the cell runs on a remote gateway
instead of in-process.`,
		Example: `  # Run a file
  nbexec exec cell.js

  # Load a CSV from a signed URL and print its shape
  nbexec exec --input-url "$URL" --hint csv -e 'print(df.shape)'

  # Carry state between invocations
  nbexec exec --session state.json -e 'n = (typeof n === "undefined" ? 0 : n) + 1'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := requireCLIContext(cmd)
			if err != nil {
				return err
			}
			return runExec(cmd, cliCtx, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Code, "code", "e", "", "cell source")
	f.StringVar(&opts.InputURL, "input-url", "", "signed URL to stage as input")
	f.StringVar(&opts.OutputURL, "output-url", "", "signed URL to upload output_content to")
	f.StringVar(&opts.Hint, "hint", "", "input type hint: csv, xpt or pdf")
	f.IntVar(&opts.Timeout, "timeout", 0, "timeout in seconds (0 uses the configured default)")
	f.StringVar(&opts.Session, "session", "", "session state file; enables session mode")
	f.StringVar(&opts.Server, "server", "", "gateway base URL, e.g. http://127.0.0.1:8080")
	f.BoolVar(&opts.JSON, "json", false, "print the full response as JSON")

	return cmd
}

func runExec(cmd *cobra.Command, cliCtx *CLIContext, opts *ExecOptions, args []string) error {
	if opts.Hint != "" && !staging.ValidHint(opts.Hint) {
		return fmt.Errorf("invalid --hint %q (want csv, xpt or pdf)", opts.Hint)
	}

	code, err := readCode(cmd, opts.Code, args)
	if err != nil {
		return err
	}

	req := executor.Request{
		Code:           code,
		TimeoutSeconds: opts.Timeout,
		InputURL:       opts.InputURL,
		OutputURL:      opts.OutputURL,
		InputTypeHint:  opts.Hint,
	}
	mode := executor.ModeOneShot
	if opts.Session != "" {
		mode = executor.ModeSession
		req.PriorState, err = readState(opts.Session)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	resp, err := runnerFor(cliCtx, opts.Server).Run(ctx, req, mode)
	if err != nil {
		return err
	}

	if opts.Session != "" {
		if err := writeState(opts.Session, resp.State); err != nil {
			return err
		}
	}

	var ok bool
	if opts.JSON {
		if mode == executor.ModeOneShot {
			err = printJSON(cmd.OutOrStdout(), resp.ExecuteResponse)
		} else {
			err = printJSON(cmd.OutOrStdout(), resp)
		}
		if err != nil {
			return err
		}
		ok = resp.Success
	} else {
		ok = printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), resp)
	}
	if !ok {
		return &ExitError{Code: 1}
	}
	return nil
}

// readCode 按 --code, 文件参数, 标准输入的顺序读取 cell
func readCode(cmd *cobra.Command, inline string, args []string) (string, error) {
	if inline != "" {
		if len(args) > 0 {
			return "", errors.New("--code and a file argument are mutually exclusive")
		}
		return inline, nil
	}
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read cell: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// readState 读取会话状态文件, 文件不存在时返回空状态
func readState(path string) (namespace.State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return namespace.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	var state namespace.State
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("parse session state %s: %w", path, err)
		}
	}
	return state, nil
}

func writeState(path string, state map[string]any) error {
	if state == nil {
		state = map[string]any{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}
