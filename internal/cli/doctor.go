package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netoneko/meow/internal/llm/configbuilder"
	"github.com/netoneko/meow/internal/tools"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			providers, err := configbuilder.BuildRegistryFromConfig(cfg)
			if err != nil {
				return err
			}
			sb, err := tools.NewSandbox(cfg.Sandbox, cfg.Tools, tools.Options{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %s (default %s)\n", strings.Join(providers.Names(), ", "), providers.Default())
			fmt.Fprintf(out, "Sandbox root: %s, working dir: %s\n", sb.Guard.Root(), sb.Guard.Cwd())
			fmt.Fprintf(out, "Tools: exec=%v git=%v write=%v network=%v\n",
				cfg.Tools.AllowExec, cfg.Tools.AllowGit, cfg.Tools.AllowFileWrite, cfg.Tools.AllowNetwork)
			fmt.Fprintf(out, "Server: %s (%s), metrics: %v\n", cfg.Server.Addr, cfg.Server.Transport, cfg.Server.MetricsEnabled)

			for _, bin := range []string{"git", "gh"} {
				if path := findInPath(cfg.Tools.SearchPath, bin); path != "" {
					fmt.Fprintf(out, "Found %s: %s\n", bin, path)
				} else {
					fmt.Fprintf(out, "Warning: %s not found in search path\n", bin)
				}
			}
			if err := os.MkdirAll(sb.Overflow.Dir, 0o755); err != nil {
				fmt.Fprintf(out, "Warning: overflow dir %s not writable: %v\n", sb.Overflow.Dir, err)
			} else {
				fmt.Fprintf(out, "Overflow dir: %s\n", sb.Overflow.Dir)
			}
			return nil
		},
	}
}

func findInPath(dirs []string, name string) string {
	if len(dirs) == 0 {
		dirs = tools.DefaultSearchPath
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return p
		}
	}
	return ""
}
