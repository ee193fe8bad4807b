// Command vserial-hostctl is the host-side CLI for the virtio-serial RPC
// channel: ping, info, exec, upload, and download against a single guest.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nodeagent/vserial-rpc/internal/client"
	"github.com/nodeagent/vserial-rpc/internal/config"
	"github.com/nodeagent/vserial-rpc/internal/envelope"
)

// Exit codes, matching the CLI contract: 0 success, 1 protocol/usage
// error, 2 connection error, 3 server-reported business error.
const (
	exitSuccess  = 0
	exitUsage    = 1
	exitConn     = 2
	exitBusiness = 3
)

var (
	configPath string
	exitCode   = exitSuccess
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if exitCode == exitSuccess {
			exitCode = exitUsage
		}
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vserial-hostctl",
		Short: "Control a guest over a virtio-serial RPC channel",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "/etc/vserial-rpc/hostctl.yaml", "path to the host config file")
	cmd.AddCommand(
		newPingCmd(),
		newInfoCmd(),
		newExecCmd(),
		newUploadCmd(),
		newDownloadCmd(),
	)
	return cmd
}

func newHostClient() (*client.Client, error) {
	cfg, err := config.LoadHostConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	c := client.New(client.Config{
		SocketPath:     cfg.SocketPath,
		ConnectTimeout: durationFromSeconds(cfg.ConnectTimeout),
		ReadTimeout:    durationFromSeconds(cfg.ReadTimeout),
		WriteTimeout:   durationFromSeconds(cfg.WriteTimeout),
		MaxRetries:     cfg.MaxRetries,
		RetryInterval:  durationFromSeconds(cfg.RetryInterval),
		BackoffFactor:  cfg.BackoffFactor,
		AutoReconnect:  true,
		Logger:         logrus.NewEntry(log),
	})
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// renderResponse prints resp.Data as JSON and maps its envelope code to
// the process exit code.
func renderResponse(resp *envelope.Response) {
	if resp.Code != envelope.CodeSuccess {
		fmt.Fprintf(os.Stderr, "error: %s (%s)\n", resp.Message, envelope.ErrorTypeName(resp.Code))
		exitCode = exitBusiness
		return
	}
	out, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		fmt.Println(resp.Data)
		return
	}
	fmt.Println(string(out))
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Issue GET /api/v1/ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newHostClient()
			if err != nil {
				exitCode = exitConn
				return err
			}
			defer c.Disconnect()

			resp, err := c.Ping(context.Background())
			if err != nil {
				exitCode = exitConn
				return err
			}
			renderResponse(resp)
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Issue GET /api/v1/system/info",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newHostClient()
			if err != nil {
				exitCode = exitConn
				return err
			}
			defer c.Disconnect()

			resp, err := c.GetSystemInfo(context.Background())
			if err != nil {
				exitCode = exitConn
				return err
			}
			renderResponse(resp)
			return nil
		},
	}
}

func newExecCmd() *cobra.Command {
	var timeoutSeconds int
	cmd := &cobra.Command{
		Use:   "exec <cmd>",
		Short: "Issue POST /api/v1/shell/exec and print stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newHostClient()
			if err != nil {
				exitCode = exitConn
				return err
			}
			defer c.Disconnect()

			resp, err := c.ExecCommand(context.Background(), args[0], time.Duration(timeoutSeconds)*time.Second)
			if err != nil {
				exitCode = exitConn
				return err
			}
			if resp.Code != envelope.CodeSuccess {
				fmt.Fprintf(os.Stderr, "error: %s (%s)\n", resp.Message, envelope.ErrorTypeName(resp.Code))
				exitCode = exitBusiness
				return nil
			}

			m, _ := resp.Data.(map[string]interface{})
			fmt.Print(m["stdout"])
			if code, ok := m["exit_code"].(float64); ok {
				exitCode = int(code)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 30, "command timeout in seconds")
	return cmd
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <local> <remote>",
		Short: "Upload a file and verify its MD5",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newHostClient()
			if err != nil {
				exitCode = exitConn
				return err
			}
			defer c.Disconnect()

			resp, err := c.UploadFile(context.Background(), args[0], args[1], true)
			if err != nil {
				exitCode = exitBusiness
				return err
			}
			if resp.Code != envelope.CodeSuccess {
				fmt.Fprintf(os.Stderr, "error: %s (%s)\n", resp.Message, envelope.ErrorTypeName(resp.Code))
				exitCode = exitBusiness
			}
			return nil
		},
	}
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <remote> <local>",
		Short: "Download a file and verify its MD5",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newHostClient()
			if err != nil {
				exitCode = exitConn
				return err
			}
			defer c.Disconnect()

			if err := c.DownloadFile(context.Background(), args[0], args[1]); err != nil {
				exitCode = exitBusiness
				return err
			}
			return nil
		},
	}
}
