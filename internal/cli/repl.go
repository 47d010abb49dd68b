package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nbexec/internal/executor"
	"nbexec/internal/kernelerr"
	"nbexec/internal/namespace"
)

// NewReplCmd 创建 repl 命令
func NewReplCmd() *cobra.Command {
	var serverURL string
	var statePath string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session",
		Long: `Run cells interactively in session mode. Each line is a cell; end a line
with a backslash to continue the cell on the next line.

Commands:
  :state         list the names held in session state
  :reset         clear session state
  :load <file>   run a file as a cell
  :quit          leave (also :exit or EOF)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := requireCLIContext(cmd)
			if err != nil {
				return err
			}
			r := &repl{
				runner: runnerFor(cliCtx, serverURL),
				in:     cmd.InOrStdin(),
				out:    cmd.OutOrStdout(),
				errOut: cmd.ErrOrStderr(),
				state:  namespace.State{},
			}
			if statePath != "" {
				if r.state, err = readState(statePath); err != nil {
					return err
				}
			}
			if err := r.loop(cmd.Context()); err != nil {
				return err
			}
			if statePath != "" {
				return writeState(statePath, r.state)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "gateway base URL; empty runs in-process")
	cmd.Flags().StringVar(&statePath, "session", "", "load state from and save state to this file")

	return cmd
}

type repl struct {
	runner cellRunner
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	state  namespace.State
	count  int
}

func (r *repl) interactive() bool {
	f, ok := r.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *repl) prompt(cont bool) {
	if !r.interactive() {
		return
	}
	if cont {
		fmt.Fprint(r.out, "   ...: ")
		return
	}
	fmt.Fprintf(r.out, "In [%d]: ", r.count+1)
}

func (r *repl) loop(ctx context.Context) error {
	if r.interactive() {
		fmt.Fprintln(r.out, "nbexec session. Type :quit to leave.")
	}

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)

	var cell strings.Builder
	r.prompt(false)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasSuffix(line, `\`) {
			cell.WriteString(strings.TrimSuffix(line, `\`))
			cell.WriteByte('\n')
			r.prompt(true)
			continue
		}
		cell.WriteString(line)
		src := cell.String()
		cell.Reset()

		done, err := r.handle(ctx, src)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		r.prompt(false)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if rest := strings.TrimSpace(cell.String()); rest != "" {
		_, err := r.handle(ctx, rest)
		return err
	}
	return nil
}

// handle 处理一行输入, 返回是否退出
func (r *repl) handle(ctx context.Context, src string) (bool, error) {
	trimmed := strings.TrimSpace(src)
	switch {
	case trimmed == "":
		return false, nil
	case trimmed == ":quit" || trimmed == ":exit":
		return true, nil
	case trimmed == ":reset":
		r.state = namespace.State{}
		fmt.Fprintln(r.out, "state cleared")
		return false, nil
	case trimmed == ":state":
		names := make([]string, 0, len(r.state))
		for name := range r.state {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(r.out, strings.Join(names, " "))
		return false, nil
	case strings.HasPrefix(trimmed, ":load "):
		data, err := os.ReadFile(strings.TrimSpace(strings.TrimPrefix(trimmed, ":load ")))
		if err != nil {
			fmt.Fprintln(r.errOut, err)
			return false, nil
		}
		return false, r.run(ctx, string(data))
	case strings.HasPrefix(trimmed, ":"):
		fmt.Fprintf(r.errOut, "unknown command %s\n", trimmed)
		return false, nil
	}
	return false, r.run(ctx, src)
}

// run 执行一个 cell; 边界错误只打印, 不中断会话
func (r *repl) run(ctx context.Context, code string) error {
	cellCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	r.count++
	resp, err := r.runner.Run(cellCtx, executor.Request{Code: code, PriorState: r.state}, executor.ModeSession)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cellCtx.Err() != nil || errors.Is(err, kernelerr.ErrInterrupted) {
			fmt.Fprintln(r.errOut, "interrupted")
			return nil
		}
		fmt.Fprintf(r.errOut, "error: %v\n", err)
		return nil
	}
	printResult(r.out, r.errOut, resp)
	r.state = resp.State
	if r.state == nil {
		r.state = namespace.State{}
	}
	return nil
}
