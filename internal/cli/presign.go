package cli

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewPresignCmd 创建 presign 命令
func NewPresignCmd() *cobra.Command {
	var method string
	var upload string

	cmd := &cobra.Command{
		Use:   "presign <key>",
		Short: "Issue a signed URL from the development object store",
		Long: `Issue a signed GET or PUT URL for key from the local development object
store. With --upload the file is stored under key first and a GET URL is
printed. The URLs point at the configured gateway address.`,
		Example: `  # URL a client can PUT to
  nbexec presign --method PUT results.csv

  # Store a local file and print a URL to read it back
  nbexec presign --upload ./data.csv data.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := requireCLIContext(cmd)
			if err != nil {
				return err
			}
			store, err := cliCtx.GetStore()
			if err != nil {
				return err
			}
			key := args[0]

			if upload != "" {
				data, err := os.ReadFile(upload)
				if err != nil {
					return fmt.Errorf("read %s: %w", upload, err)
				}
				contentType := mime.TypeByExtension(filepath.Ext(upload))
				if contentType == "" {
					contentType = "application/octet-stream"
				}
				if err := store.Put(key, data, contentType); err != nil {
					return fmt.Errorf("store %s: %w", key, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Stored %s (%s)\n", key, humanize.Bytes(uint64(len(data))))
				method = http.MethodGet
			}

			url, err := store.Presign(strings.ToUpper(method), key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", http.MethodGet, "GET or PUT")
	cmd.Flags().StringVar(&upload, "upload", "", "store this file under key before signing")

	return cmd
}
