package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"evolute/config"
	"evolute/midiport"
)

const usageText = `usage: evolute [-config file] <command> [args]

commands:
  ports                          list MIDI ports
  config-init                    write the current configuration to the config file
  monitor                        keep the mirror in sync and log changes
  get                            print the edit buffer as JSON
  set [file]                     send a JSON program as the edit buffer
  store <bank> <program> [file]  write a JSON program into a stored slot
  select <bank> <program>        switch program and wait for its edit buffer
  names <bank>                   print the program names of a bank
  cmd <name>                     send reset, start-stop, shift-on or shift-off
  syx-save <file>                save the edit buffer as .syx
  syx-load <file>                send every Evolver message in a .syx file
  wave <n> <file>                save waveshape n as WAV
  wave-send <n> <file>           send a WAV file as waveshape n
  mcp                            serve MCP tools over stdio
`

// argCount is the number of arguments each command takes, min and max.
var argCount = map[string][2]int{
	"ports":       {0, 0},
	"config-init": {0, 0},
	"monitor":     {0, 0},
	"get":         {0, 0},
	"set":         {0, 1},
	"store":       {2, 3},
	"select":      {2, 2},
	"names":       {1, 1},
	"cmd":         {1, 1},
	"syx-save":    {1, 1},
	"syx-load":    {1, 1},
	"wave":        {2, 2},
	"wave-send":   {2, 2},
	"mcp":         {0, 0},
}

func main() {
	configPath := flag.String("config", "", "config file (default: evolute/config.yaml in the user config dir)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usageText) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := args[0], args[1:]
	n, ok := argCount[cmd]
	if !ok {
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if len(args) < n[0] || len(args) > n[1] {
		flag.Usage()
		os.Exit(2)
	}

	if cmd == "ports" {
		ins, outs := midiport.Names()
		fmt.Printf("inputs:\n  %s\noutputs:\n  %s\n", strings.Join(ins, "\n  "), strings.Join(outs, "\n  "))
		return
	}
	if cmd == "config-init" {
		path, err := initConfig(cfg, *configPath)
		if err != nil {
			log.Fatal("could not write config", zap.Error(err))
		}
		log.Info("wrote config", zap.String("path", path))
		return
	}

	e, err := OpenEvolver(cfg, log)
	if err != nil {
		log.Fatal("could not open Evolver", zap.Error(err))
	}
	if err := run(e, cfg, log, cmd, args); err != nil {
		e.Close()
		log.Fatal("command failed", zap.String("command", cmd), zap.Error(err))
	}
	e.Close()
}

// initConfig writes cfg to path, or to the default path when path is empty.
func initConfig(cfg *config.Config, path string) (string, error) {
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return "", err
		}
		path = p
	}
	return path, cfg.Save(path)
}

func run(e *Evolver, cfg *config.Config, log *zap.Logger, cmd string, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch cmd {
	case "monitor":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return monitor(ctx, e)
	case "get":
		return getEdit(e)
	case "set":
		return setEdit(e, arg(0))
	case "store":
		return storeProgram(e, arg(0), arg(1), arg(2))
	case "select":
		return selectProgram(e, arg(0), arg(1))
	case "names":
		return listNames(e, os.Stdout, arg(0))
	case "cmd":
		return sendCommand(e, arg(0))
	case "syx-save":
		return saveSysEx(e, exportPath(cfg.Export.Dir, arg(0)))
	case "syx-load":
		return loadSysEx(e, exportPath(cfg.Export.Dir, arg(0)))
	case "wave":
		return saveWaveshape(e, arg(0), exportPath(cfg.Export.Dir, arg(1)))
	case "wave-send":
		return sendWaveshape(e, arg(0), exportPath(cfg.Export.Dir, arg(1)))
	case "mcp":
		return runMCP(e, log.Named("mcp"))
	}
	return nil
}
