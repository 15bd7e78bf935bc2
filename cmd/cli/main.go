// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// maloctl 是协调服务的命令行客户端
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

// rootOptions 全局参数
type rootOptions struct {
	Server  string
	APIKey  string
	Timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.Server, o.APIKey, o.Timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "maloctl",
		Short:         "MaLo 供应商变更协调服务客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("MALO_API_URL", "http://localhost:8080"), "API 地址")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", os.Getenv("MALO_API_KEY"), "X-Api-Key")
	// 交接请求会阻塞到运行结束，默认超时要覆盖服务端截止时长
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "HTTP 超时")

	cmd.AddCommand(
		newVersionCommand(),
		newMaloCommand(opts),
		newHandoverCommand(opts),
		newOnboardCommand(opts),
		newRunCommand(opts),
		newContractCommand(opts),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "maloctl "+version)
		},
	}
}

func newMaloCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "malo", Short: "计量点记录"}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <malo_id>",
		Short: "读取记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().getMalo(args[0])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), data)
			return nil
		},
	})

	var file string
	put := &cobra.Command{
		Use:   "put <malo_id>",
		Short: "登记或覆盖记录（JSON 文件，- 表示标准输入）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			if !json.Valid(raw) {
				return fmt.Errorf("%s 不是合法 JSON", file)
			}
			data, err := opts.client().putMalo(args[0], raw)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	put.Flags().StringVarP(&file, "file", "f", "-", "记录文件")
	cmd.AddCommand(put)

	var limit int
	runs := &cobra.Command{
		Use:   "runs <malo_id>",
		Short: "列出最近的运行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().listRuns(args[0], limit)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	runs.Flags().IntVar(&limit, "limit", 20, "条数")
	cmd.AddCommand(runs)
	return cmd
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}

// checkOutcome 输出结论；未完成时返回错误，便于脚本判断
func checkOutcome(cmd *cobra.Command, data []byte) error {
	printJSON(cmd.OutOrStdout(), data)
	var resp struct {
		Outcome string `json:"outcome"`
		RunID   string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if resp.Outcome != "completed" {
		return fmt.Errorf("运行 %s 未完成: %s", resp.RunID, resp.Outcome)
	}
	return nil
}

func newHandoverCommand(opts *rootOptions) *cobra.Command {
	var start, end, timeout string
	cmd := &cobra.Command{
		Use:   "handover <malo_id>",
		Short: "为新供应期发起交接，阻塞至运行结束",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"requested_start": start, "requested_end": end}
			if timeout != "" {
				req["timeout"] = timeout
			}
			data, err := opts.client().handover(args[0], req)
			if err != nil {
				return err
			}
			return checkOutcome(cmd, data)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "新供应期开始 YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "新供应期结束 YYYY-MM-DD")
	cmd.Flags().StringVar(&timeout, "deadline", "", "运行截止时长，如 90s")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newOnboardCommand(opts *rootOptions) *cobra.Command {
	var supplierName, endpoint, timeout string
	cmd := &cobra.Command{
		Use:   "onboard <malo_id>",
		Short: "为新供应商协商合同",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"supplier_name": supplierName}
			if endpoint != "" {
				req["supplier_endpoint"] = endpoint
			}
			if timeout != "" {
				req["timeout"] = timeout
			}
			data, err := opts.client().onboard(args[0], req)
			if err != nil {
				return err
			}
			return checkOutcome(cmd, data)
		},
	}
	cmd.Flags().StringVar(&supplierName, "supplier", "", "供应商名称")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "供应商连接器地址")
	cmd.Flags().StringVar(&timeout, "deadline", "", "运行截止时长，如 90s")
	_ = cmd.MarkFlagRequired("supplier")
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "run", Short: "运行查询与取消"}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <run_id>",
		Short: "查询运行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().getRun(args[0])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <run_id>",
		Short: "取消执行中的运行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().cancelRun(args[0])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), data)
			return nil
		},
	})
	return cmd
}

func newContractCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "contract", Short: "供应商侧合同簿"}

	var maloID, supplierName, end, cycle string
	put := &cobra.Command{
		Use:   "put",
		Short: "登记合同",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().putContract(map[string]string{
				"malo_id":      maloID,
				"supplier":     supplierName,
				"contract_end": end,
				"cycle_period": cycle,
			})
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	put.Flags().StringVar(&maloID, "malo", "", "计量点 ID")
	put.Flags().StringVar(&supplierName, "supplier", "", "供应商名称")
	put.Flags().StringVar(&end, "end", "", "合同结束 YYYY-MM-DD")
	put.Flags().StringVar(&cycle, "cycle", "m", "合同周期 m|y")
	_ = put.MarkFlagRequired("malo")
	_ = put.MarkFlagRequired("supplier")
	_ = put.MarkFlagRequired("end")
	cmd.AddCommand(put)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <malo_id> <supplier>",
		Short: "读取合同",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().getContract(args[0], args[1])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), data)
			return nil
		},
	})
	return cmd
}
