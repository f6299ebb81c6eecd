package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/rexliu/acrpc/pkg/config"
	"github.com/rexliu/acrpc/pkg/ipc"
	"github.com/rexliu/acrpc/pkg/rpc"
)

const defaultTimeout = 10 * time.Second

func initCommand(c *cli.Context) error {
	profile := c.String("profile")
	if err := os.MkdirAll(profile, 0o700); err != nil {
		return err
	}
	configPath := filepath.Join(profile, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !c.Bool("force") {
		return errors.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}
	cfg := config.DefaultProfile(c.String("name"))
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "initialized profile %s at %s\n", cfg.ProfileName, profile)
	return nil
}

func pingCommand(c *cli.Context) error {
	return callAndPrint(c, "ping", nil)
}

func accountsCommand(c *cli.Context) error {
	var params any
	if remove := c.StringSlice("remove"); len(remove) > 0 {
		params = map[string]any{"remove": remove}
	}
	return callAndPrint(c, "accounts", params)
}

func setDisabled(disabled bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		return callAndPrint(c, "config_set", map[string]any{"disabled": disabled})
	}
}

func bootstrapDomainCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("bootstrap-domain takes exactly one domain")
	}
	return callAndPrint(c, "config_set", map[string]any{"bootstrapDomain": c.Args().First()})
}

func sendCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("send takes exactly one JSON message")
	}
	data := c.Args().First()
	if _, err := rpc.Decode(data); err != nil {
		return err
	}
	token := c.String("token")
	if token == "" {
		token = rpc.NewToken()
	}
	return callAndPrint(c, "post_message", map[string]any{
		"origin": c.String("origin"),
		"token":  token,
		"data":   data,
	})
}

func replayCommand(c *cli.Context) error {
	return callAndPrint(c, "replay", map[string]any{
		"domain":  c.String("domain"),
		"confirm": c.Bool("confirm"),
		"email":   c.String("email"),
	})
}

func exportCommand(c *cli.Context) error {
	return callAndPrint(c, "export", map[string]any{"path": c.String("path")})
}

func diagCommand(c *cli.Context) error {
	profile := c.String("profile")
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		return err
	}
	report := map[string]any{
		"profile":  cfg.ProfileName,
		"config":   filepath.Join(profile, config.FileName),
		"database": cfg.Storage.DBPath,
		"socket":   socketPath(c, cfg),
		"chooser":  cfg.Server.Spec().IFrameURL(),
		"http":     cfg.HTTP.ListenAddr,
	}
	resp, err := call(c, cfg, "ping", nil)
	if err != nil {
		report["daemon"] = err.Error()
	} else {
		report["daemon"] = resp.Result
	}
	return printJSON(c, report)
}

func socketPath(c *cli.Context, cfg *config.ProfileConfig) string {
	if s := c.String("socket"); s != "" {
		return s
	}
	return cfg.IPC.SocketPath
}

func call(c *cli.Context, cfg *config.ProfileConfig, method string, params any) (*ipc.Response, error) {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	return ipc.Call(ctx, socketPath(c, cfg), method, params)
}

func callAndPrint(c *cli.Context, method string, params any) error {
	cfg, err := config.LoadProfile(c.String("profile"))
	if err != nil {
		return errors.Wrap(err, "load profile")
	}
	resp, err := call(c, cfg, method, params)
	if err != nil {
		return errors.Wrap(err, method)
	}
	return printJSON(c, resp.Result)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
