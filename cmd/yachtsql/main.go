package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhukovaskychina/yachtsql/conf"
	"github.com/zhukovaskychina/yachtsql/engine"
	"github.com/zhukovaskychina/yachtsql/logger"
)

var (
	configPath string
	execSQL    string
)

func main() {
	root := &cobra.Command{
		Use:   "yachtsql",
		Short: "YachtSQL嵌入式SQL引擎命令行",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "ini配置文件路径")

	execCmd := &cobra.Command{
		Use:   "exec",
		Short: "执行单条SQL并输出JSON结果",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()
			return runOne(s, execSQL)
		},
	}
	execCmd.Flags().StringVarP(&execSQL, "sql", "e", "", "要执行的SQL")
	execCmd.MarkFlagRequired("sql")

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "交互式查询",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()
			return repl(s)
		},
	}

	root.AddCommand(execCmd, replCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSession() (*engine.Session, error) {
	cfg := conf.Default()
	if configPath != "" {
		loaded, err := conf.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger.SetLevel(cfg.LogLevel)
	return engine.NewSessionWithConfig(cfg), nil
}

func runOne(s *engine.Session, sql string) error {
	t, err := s.ExecuteSQL(context.Background(), sql)
	if err != nil {
		return err
	}
	out, err := t.MarshalResponse()
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func repl(s *engine.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	fmt.Println("yachtsql> 输入SQL，;结束，exit退出")
	var buf strings.Builder
	for {
		if buf.Len() == 0 {
			fmt.Print("yachtsql> ")
		} else {
			fmt.Print("      -> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if buf.Len() == 0 && (strings.EqualFold(strings.TrimSpace(line), "exit") ||
			strings.EqualFold(strings.TrimSpace(line), "quit")) {
			return nil
		}
		buf.WriteString(line)
		buf.WriteString("\n")
		if !strings.Contains(line, ";") {
			continue
		}
		sql := strings.TrimSpace(buf.String())
		buf.Reset()
		if sql == "" {
			continue
		}
		if err := runOne(s, sql); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
