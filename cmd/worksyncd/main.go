// worksyncd — 工作区同步守护进程。
//
// 连接 studio 运行时服务, 维护本地对账视图, 并在本地暴露状态 API
// 供面板/编辑器插件消费。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "worksyncd",
	Short: "Workspace synchronizer daemon for the studio runtime",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (JSON)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
