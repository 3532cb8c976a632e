package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/api"
	"github.com/wfunc/dispenser-ctl/internal/config"
	"github.com/wfunc/dispenser-ctl/internal/database"
	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/hardware"
	"github.com/wfunc/dispenser-ctl/internal/logger"
	"github.com/wfunc/dispenser-ctl/internal/protocol"
	"github.com/wfunc/dispenser-ctl/internal/service"
	"github.com/wfunc/dispenser-ctl/internal/shell"
	"github.com/wfunc/dispenser-ctl/internal/websocket"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 5 * time.Second

// options 只对部分子命令有效的参数
type options struct {
	limit      int
	errorsOnly bool
}

func main() {
	flags := pflag.NewFlagSet("dispenser", pflag.ContinueOnError)
	flags.Usage = func() { printHelp(flags) }

	configPath := flags.StringP("config", "c", "", "config file path")
	flags.StringP("port", "p", "", "serial port, \"auto\" to detect")
	flags.Int("baud", 115200, "baud rate")
	flags.Bool("simulate", false, "use the simulated dispenser")
	flags.String("link", "framed", "link mode (framed|raw)")
	flags.String("profile", "decimal", "field profile (decimal|implied)")
	flags.String("log-level", "debug", "log level")
	flags.String("db", "", "history database DSN")

	var opts options
	flags.IntVar(&opts.limit, "limit", 20, "history: number of rows")
	flags.BoolVar(&opts.errorsOnly, "errors", false, "history: failed commands only")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	args := flags.Args()
	command := "shell"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if command == "version" {
		printVersion()
		return
	}
	if command == "help" {
		printHelp(flags)
		return
	}

	if err := config.Init(*configPath, flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config.Watch(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		logger.Info("Config reloaded", zap.String("log_level", newCfg.Log.Level))
	})

	var err error
	switch command {
	case "shell":
		err = runShell(cfg, nil)
	case "run":
		if len(args) == 0 {
			err = errors.New(errors.ErrInvalidArgument, "usage: dispenser run <command> [arg]")
			break
		}
		err = runShell(cfg, args)
	case "ports":
		err = listPorts()
	case "history":
		err = printHistory(cfg, opts)
	case "serve":
		err = serve(cfg)
	default:
		err = errors.Newf(errors.ErrUnknownCommand, "unknown subcommand %q", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}

// runShell 连接设备后进入交互模式，line 非空时只执行这一条命令
func runShell(cfg *config.Config, line []string) error {
	mode, err := protocol.ParseMode(cfg.Dispenser.InitialMode)
	if err != nil {
		return err
	}
	profile, err := protocol.ParseProfile(cfg.Protocol.Profile)
	if err != nil {
		return err
	}
	linkCfg, err := hardware.NewLinkConfig(&cfg.Protocol)
	if err != nil {
		return err
	}

	transport, err := hardware.NewConnector(&cfg.Serial).Connect()
	if err != nil {
		return err
	}
	dispenser := hardware.NewDispenser(hardware.NewLink(transport, linkCfg), protocol.NewEncoder(profile))
	defer dispenser.Close()

	recorder, closeDB := openRecorder(cfg, transport.Name(), linkCfg.Mode.String())
	defer closeDB()

	logger.Info("Dispenser ready",
		zap.String("port", transport.Name()),
		zap.String("link", linkCfg.Mode.String()),
		zap.String("profile", profile.String()),
		zap.String("mode", mode.String()),
		zap.String("session_id", recorder.SessionID()),
	)

	session := shell.NewSession(dispenser, recorder, mode, cfg.Shell, os.Stdout)
	ctx := context.Background()
	if len(line) > 0 {
		_, err := session.Execute(ctx, strings.Join(line, " "))
		return err
	}
	return session.Run(ctx)
}

// openRecorder 历史数据库不可用时退化为空记录器
func openRecorder(cfg *config.Config, port, link string) (service.Recorder, func()) {
	if !cfg.Database.Enabled {
		return service.NewNopRecorder(), func() {}
	}
	if err := database.Init(&cfg.Database); err != nil {
		logger.Warn("Command history disabled", zap.Error(err))
		return service.NewNopRecorder(), func() {}
	}
	return service.NewCommandLogService(database.GetDB(), port, link), func() {
		if err := database.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
}

func openHistory(cfg *config.Config) (*service.CommandLogService, error) {
	if !cfg.Database.Enabled {
		return nil, errors.New(errors.ErrConfigValidate, "database.enabled is false")
	}
	if err := database.Init(&cfg.Database); err != nil {
		return nil, err
	}
	return service.NewCommandLogService(database.GetDB(), "", ""), nil
}

// listPorts 列出可用串口
func listPorts() error {
	ports, err := hardware.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Printf("%-24s %s", p.Name, p.Description)
		if p.IsUSB {
			fmt.Printf(" [USB %s:%s", p.VID, p.PID)
			if p.SerialNumber != "" {
				fmt.Printf(" serial %s", p.SerialNumber)
			}
			fmt.Print("]")
		}
		fmt.Println()
	}
	return nil
}

// printHistory 打印最近的命令
func printHistory(cfg *config.Config, opts options) error {
	svc, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	logs, err := svc.Latest(context.Background(), opts.limit, opts.errorsOnly)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabaseQuery)
	}

	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		status := l.Reply
		if l.Failed() {
			status = l.ErrorMsg
		}
		fmt.Printf("%5d  %s  %-20s %-10s %-12q %6.1fms  %s\n",
			l.ID, l.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			l.Name, l.Argument, l.Command, l.LatencyMs, status)
	}
	return nil
}

// serve 启动历史查询API，不访问串口
func serve(cfg *config.Config) error {
	svc, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.GetModuleLogger("api")
	if cfg.History.RetentionDays > 0 {
		if _, err := svc.Cleanup(context.Background(), cfg.History.RetentionDays); err != nil {
			log.Warn("History cleanup failed", zap.Error(err))
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	go func() {
		if err := websocket.NewFeed(hub, svc, cfg.API.FeedInterval).Run(ctx); err != nil {
			log.Error("Command feed stopped", zap.Error(err))
		}
	}()

	api.SetMode(cfg.API.Mode)
	router := api.NewRouter(database.GetDB(), svc, hub, cfg.History.RetentionDays, log)
	srv := &http.Server{
		Addr:    cfg.API.Addr(),
		Handler: router.GetEngine(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting history API server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.ErrTimeout, "shutdown")
	}
	return nil
}

func printVersion() {
	fmt.Printf("dispenser %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
	fmt.Printf("Git commit: %s\n", GitCommit)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printHelp(flags *pflag.FlagSet) {
	fmt.Println("Nordson Ultimus dispenser control")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dispenser [options] [shell]            interactive shell (default)")
	fmt.Println("  dispenser [options] run -- <cmd> [arg]  execute one command")
	fmt.Println("  dispenser ports                         list serial ports")
	fmt.Println("  dispenser history [--limit N] [--errors]")
	fmt.Println("  dispenser serve                         history HTTP API")
	fmt.Println("  dispenser version")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Print(flags.FlagUsages())
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DISPENSER_SERIAL_PORT, DISPENSER_PROTOCOL_LINK, ... override config keys")
}
