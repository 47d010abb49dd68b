package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"nbexec/internal/config"

	"github.com/spf13/cobra"
)

// InitOptions init 命令选项
type InitOptions struct {
	Force       bool
	ObjectStore bool
}

// NewInitCmd 创建 init 命令
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with defaults",
		Long: `Write a configuration file with default values to the --config path
(default ~/.nbexec/config.yaml). A random object store secret is generated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := requireCLIContext(cmd)
			if err != nil {
				return err
			}
			return RunInit(cmd, cliCtx, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().BoolVar(&opts.ObjectStore, "objectstore", false, "enable the development object store")

	return cmd
}

// RunInit 执行初始化
func RunInit(cmd *cobra.Command, cliCtx *CLIContext, opts *InitOptions) error {
	path := cliCtx.ConfigPath

	// 检查是否已存在
	if _, err := os.Stat(path); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", path)
	}

	cfg := *cliCtx.Config
	if cfg.ObjectStore.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		cfg.ObjectStore.Secret = secret
	}
	if opts.ObjectStore {
		cfg.ObjectStore.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.SaveTo(&cfg, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized nbexec configuration at %s\n", path)
	fmt.Fprintf(out, "  Gateway:      http://%s\n", cfg.Gateway.Addr())
	fmt.Fprintf(out, "  Object store: %v (%s)\n", cfg.ObjectStore.Enabled, cfg.ObjectStore.Path)
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
