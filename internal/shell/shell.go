package shell

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/config"
	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/hardware"
	"github.com/wfunc/dispenser-ctl/internal/logger"
	"github.com/wfunc/dispenser-ctl/internal/protocol"
	"github.com/wfunc/dispenser-ctl/internal/service"
)

// 不经过设备的内建命令
const (
	cmdHelp = "help"
	cmdMode = "mode"
	cmdExit = "exit"
)

// Session 交互会话，持有当前模式
type Session struct {
	dispenser *hardware.Dispenser
	recorder  service.Recorder
	mode      protocol.Mode
	out       io.Writer
	cfg       config.ShellConfig
	logger    *zap.Logger
}

// NewSession 创建会话
func NewSession(d *hardware.Dispenser, recorder service.Recorder, mode protocol.Mode, cfg config.ShellConfig, out io.Writer) *Session {
	if recorder == nil {
		recorder = service.NewNopRecorder()
	}
	return &Session{
		dispenser: d,
		recorder:  recorder,
		mode:      mode,
		out:       out,
		cfg:       cfg,
		logger:    logger.GetModuleLogger("shell"),
	}
}

// Mode 当前模式
func (s *Session) Mode() protocol.Mode {
	return s.mode
}

// Run 交互循环，^C 放弃当前行，^D 或 exit 退出
func (s *Session) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(Complete)
	s.readHistory(line)
	defer s.writeHistory(line)

	fmt.Fprintf(s.out, "Dispenser shell on %s (%s mode). Type \"help\" for commands, Ctrl-D to quit.\n",
		s.dispenser.Link().Transport().Name(), s.mode)

	for {
		input, err := line.Prompt(s.cfg.Prompt)
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		done, err := s.Execute(ctx, input)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Execute 执行一行命令
//
// done 表示会话应当结束；只有不可恢复的传输错误才会返回 err。
func (s *Session) Execute(ctx context.Context, input string) (done bool, err error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case cmdExit, "quit":
		return true, nil
	case cmdHelp:
		s.printHelp()
		return false, nil
	case cmdMode:
		fmt.Fprintf(s.out, "Mode: %s\n", s.mode)
		return false, nil
	}

	result, err := s.dispenser.Run(name, args)
	// 已编码的 toggle_mode 无论设备是否应答都切换本地模式
	if result != nil && result.Request.Command.TogglesMode {
		s.mode = s.mode.Toggle()
	}

	if recErr := s.recorder.Record(ctx, &service.Execution{
		Name:   name,
		Args:   args,
		Result: result,
		Err:    err,
		Mode:   s.mode,
	}); recErr != nil {
		s.logger.Warn("Command not recorded", zap.String("command", name), zap.Error(recErr))
	}

	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", describe(err))
		if !errors.IsRecoverable(err) {
			s.logger.Error("Transport failure, ending session", zap.Error(err))
			return true, err
		}
		return false, nil
	}

	s.printResult(result)
	return false, nil
}

func (s *Session) printResult(r *hardware.Result) {
	fmt.Fprintf(s.out, "Sent %q", r.Request.Payload)
	if resp := r.Response; resp != nil && resp.Reply != "" {
		fmt.Fprintf(s.out, " -> %s", resp.Reply)
	}
	if resp := r.Response; resp != nil {
		fmt.Fprintf(s.out, " (%.1f ms)", float64(resp.Latency)/float64(time.Millisecond))
	}
	fmt.Fprintln(s.out)

	switch {
	case r.Values != nil:
		fmt.Fprintf(s.out, "Location %s: %s\n", r.Request.Arg, r.Values)
	case r.Request.Command.TogglesMode:
		fmt.Fprintf(s.out, "Mode: %s\n", s.mode)
	}
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	for _, def := range protocol.Commands() {
		fmt.Fprintf(s.out, "  %-40s %s\n", def.Usage, def.Description)
	}
	fmt.Fprintf(s.out, "  %-40s %s\n", cmdMode, "Show the current mode")
	fmt.Fprintf(s.out, "  %-40s %s\n", cmdHelp, "Show this help")
	fmt.Fprintf(s.out, "  %-40s %s\n", cmdExit, "Leave the shell")
}

// Complete 补全命令名，单位命令补全单位名
func Complete(line string) (c []string) {
	lower := strings.ToLower(line)
	if i := strings.IndexByte(lower, ' '); i > 0 {
		def, ok := protocol.Lookup(lower[:i])
		if !ok || def.Units == nil {
			return nil
		}
		prefix := strings.TrimLeft(lower[i:], " ")
		for _, u := range def.Units.Names() {
			if strings.HasPrefix(strings.ToLower(u), prefix) {
				c = append(c, def.Name+" "+u)
			}
		}
		return c
	}

	for _, name := range append(protocol.Names(), cmdExit, cmdHelp, cmdMode) {
		if strings.HasPrefix(name, lower) {
			c = append(c, name)
		}
	}
	return c
}

func (s *Session) readHistory(line *liner.State) {
	if s.cfg.HistoryFile == "" {
		return
	}
	f, err := os.Open(s.cfg.HistoryFile)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := line.ReadHistory(f); err != nil {
		s.logger.Debug("Failed to read shell history", zap.Error(err))
	}
}

func (s *Session) writeHistory(line *liner.State) {
	if s.cfg.HistoryFile == "" {
		return
	}
	f, err := os.Create(s.cfg.HistoryFile)
	if err != nil {
		s.logger.Warn("Failed to save shell history", zap.String("file", s.cfg.HistoryFile), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := line.WriteHistory(f); err != nil {
		s.logger.Warn("Failed to save shell history", zap.Error(err))
	}
}

// describe 面向用户的错误描述
func describe(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		if appErr.Details != "" {
			return appErr.Message + ": " + appErr.Details
		}
		return appErr.Message
	}
	return err.Error()
}
