package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/log"
	"github.com/cenkalti/steward/engine"
	"github.com/cenkalti/steward/engine/anacrolixengine"
	"github.com/cenkalti/steward/engine/simengine"
	"github.com/cenkalti/steward/internal/jsonutil"
	"github.com/cenkalti/steward/internal/logger"
	"github.com/cenkalti/steward/rpcclient"
	"github.com/cenkalti/steward/torrent"
	"github.com/hokaccha/go-prettyjson"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"
)

var (
	app = cli.NewApp()
	clt *rpcclient.Client
)

func main() {
	app.Version = torrent.Version
	app.Usage = "BitTorrent lifecycle coordinator"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug,d",
			Usage: "enable debug log",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logger.SetLevel(log.DEBUG)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "server",
			Usage: "run session server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config,c",
					Usage: "read config from `FILE`",
					Value: "~/.steward.yaml",
				},
				cli.StringFlag{
					Name:  "engine-config",
					Usage: "read engine config from `FILE`",
					Value: "~/.steward-engine.yaml",
				},
				cli.BoolFlag{
					Name:  "simulate",
					Usage: "use simulated engine that does no network or disk I/O",
				},
			},
			Action: handleServer,
		},
		{
			Name:  "client",
			Usage: "send rpc request to server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "host",
					Value: torrent.DefaultConfig.RPCHost,
				},
				cli.IntFlag{
					Name:  "port",
					Value: torrent.DefaultConfig.RPCPort,
				},
			},
			Before: handleBeforeClient,
			After:  handleAfterClient,
			Subcommands: []cli.Command{
				{
					Name:   "version",
					Usage:  "server version",
					Action: handleVersion,
				},
				{
					Name:   "list",
					Usage:  "list torrents",
					Action: handleList,
				},
				{
					Name:  "add",
					Usage: "add torrent",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "torrent,t", Required: true},
						cli.StringFlag{Name: "save-location"},
						cli.BoolFlag{Name: "stopped"},
					},
					Action: handleAdd,
				},
				{
					Name:  "remove",
					Usage: "remove torrent",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "id", Required: true},
						cli.BoolFlag{Name: "delete-data"},
					},
					Action: handleRemove,
				},
				{
					Name:  "stats",
					Usage: "get stats of torrent",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "id", Required: true},
					},
					Action: handleStats,
				},
				{
					Name:   "session-stats",
					Usage:  "get stats of session",
					Action: handleSessionStats,
				},
				{
					Name:  "start",
					Usage: "start torrent",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "id", Required: true},
					},
					Action: handleStart,
				},
				{
					Name:  "stop",
					Usage: "stop torrent",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "id", Required: true},
					},
					Action: handleStop,
				},
				{
					Name:  "pause",
					Usage: "pause torrent",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "id", Required: true},
					},
					Action: handlePause,
				},
				{
					Name:  "resume",
					Usage: "resume paused or failed torrent",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "id", Required: true},
					},
					Action: handleResume,
				},
				{
					Name:  "move",
					Usage: "set final location of torrent data",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "id", Required: true},
						cli.StringFlag{Name: "save-location", Required: true},
					},
					Action: handleMove,
				},
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleServer(c *cli.Context) error {
	cfg, err := torrent.LoadFile(c.String("config"))
	if err != nil {
		return err
	}
	if !c.GlobalBool("debug") {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	eng, err := newEngine(c)
	if err != nil {
		return err
	}
	ses, err := torrent.NewSession(cfg, eng)
	if err != nil {
		_ = eng.Close()
		return err
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case s := <-ch:
			log.Noticeln("received", s, "signal, stopping session")
			return ses.Close()
		case err := <-ses.Errors():
			log.Errorln("torrent error:", err)
		}
	}
}

func newEngine(c *cli.Context) (engine.Engine, error) {
	if c.Bool("simulate") {
		log.Warning("using simulated engine")
		return simengine.New(simengine.DefaultConfig), nil
	}
	cfg := anacrolixengine.DefaultConfig
	filename, err := homedir.Expand(c.String("engine-config"))
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err = yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}
	return anacrolixengine.New(cfg)
}

func handleBeforeClient(c *cli.Context) error {
	clt = rpcclient.NewHostPort(c.String("host"), c.Int("port"))
	return nil
}

func handleAfterClient(c *cli.Context) error {
	if clt != nil {
		return clt.Close()
	}
	return nil
}

func handleVersion(c *cli.Context) error {
	version, err := clt.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Println(version)
	return nil
}

func handleList(c *cli.Context) error {
	resp, err := clt.ListTorrents()
	if err != nil {
		return err
	}
	b, err := prettyjson.Marshal(resp)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	_, _ = os.Stdout.WriteString("\n")
	return nil
}

func handleAdd(c *cli.Context) error {
	f, err := os.Open(c.String("torrent"))
	if err != nil {
		return err
	}
	defer f.Close()
	t, err := clt.AddTorrent(f, c.String("save-location"), c.Bool("stopped"))
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	_, _ = os.Stdout.WriteString("\n")
	return nil
}

func handleRemove(c *cli.Context) error {
	return clt.RemoveTorrent(c.String("id"), c.Bool("delete-data"))
}

func handleStats(c *cli.Context) error {
	s, err := clt.GetTorrentStats(c.String("id"))
	if err != nil {
		return err
	}
	return printCompact(s)
}

func handleSessionStats(c *cli.Context) error {
	s, err := clt.GetSessionStats()
	if err != nil {
		return err
	}
	return printCompact(s)
}

func handleStart(c *cli.Context) error {
	return clt.StartTorrent(c.String("id"))
}

func handleStop(c *cli.Context) error {
	return clt.StopTorrent(c.String("id"))
}

func handlePause(c *cli.Context) error {
	return clt.PauseTorrent(c.String("id"))
}

func handleResume(c *cli.Context) error {
	ok, err := clt.ResumeTorrent(c.String("id"))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("torrent is not in a resumable state")
	}
	return nil
}

func handleMove(c *cli.Context) error {
	return clt.SetSaveLocation(c.String("id"), c.String("save-location"))
}

func printCompact(v any) error {
	b, err := jsonutil.MarshalFields(v, isatty.IsTerminal(os.Stdout.Fd()))
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}
