// Command ragctl 是一次性的命令行工具：索引、检索、集合管理、签发管理 token 以及以 stdio 运行 MCP 服务。
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rag-sync-go/internal/bootstrap"
	"rag-sync-go/internal/config"
	"rag-sync-go/pkg/log"
)

var (
	configPath string
	jsonOutput bool

	cfg *config.Config
	app *bootstrap.App
)

// 不需要构建向量库与模型客户端的命令
const skipAppAnnotation = "skip-app"

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Index local documents and query them semantically",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
		if cmd.Annotations[skipAppAnnotation] == "true" {
			return nil
		}
		app, err = bootstrap.New(cmd.Context(), cfg, bootstrap.Options{})
		return err
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		log.Sync()
		if app == nil {
			return nil
		}
		err := app.Close()
		app = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "path of the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// closeApp 在命令出错、PersistentPostRunE 未执行时兜底关闭。
func closeApp() {
	if app != nil {
		_ = app.Close()
		app = nil
	}
}

func main() {
	err := rootCmd.Execute()
	closeApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
