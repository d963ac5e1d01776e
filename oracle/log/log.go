package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	errorsmod "cosmossdk.io/errors"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	customLog logger
	mu        sync.RWMutex
)

type logger struct {
	debug *log.Logger
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	level Level
	dir   string
}

func init() {
	InitLogger()
}

func InitLogger() {
	mu.Lock()
	defer mu.Unlock()

	customLog = logger{
		debug: log.New(os.Stdout, "[DEBUG] ", 0),
		info:  log.New(os.Stdout, "[INFOM] ", 0),
		warn:  log.New(os.Stdout, "[WARNM] ", 0),
		err:   log.New(os.Stderr, "[ERROR] ", 0),
		level: customLog.level,
		dir:   "",
	}
}

// ResetLogger redirects every level to <home>/logs/<binary>.<pid>.log.
func ResetLogger(oracleHome string) error {
	if oracleHome == "" {
		osHome, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		oracleHome = filepath.Join(osHome, ".oracled")
	}

	dir := filepath.Join(oracleHome, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	Infof("From now on, all logs will be written to %s", path)

	format := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	mu.Lock()
	customLog.dir = dir
	customLog.debug = log.New(file, "[DEBUG] ", format)
	customLog.info = log.New(file, "[INFOM] ", format)
	customLog.warn = log.New(file, "[WARNM] ", format)
	customLog.err = log.New(file, "[ERROR] ", format)
	mu.Unlock()

	return nil
}

// SetOutput sends every level to w. Used by tests to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	customLog.debug.SetOutput(w)
	customLog.info.SetOutput(w)
	customLog.warn.SetOutput(w)
	customLog.err.SetOutput(w)
}

func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

func SetLevel(level string) error {
	lv, err := ParseLevel(level)
	if err != nil {
		return err
	}

	mu.Lock()
	customLog.level = lv
	mu.Unlock()
	return nil
}

func output(lv Level, format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if lv < customLog.level {
		return
	}

	var l *log.Logger
	switch lv {
	case LevelDebug:
		l = customLog.debug
	case LevelInfo:
		l = customLog.info
	case LevelWarn:
		l = customLog.warn
	default:
		l = customLog.err
	}

	var msg string
	if format == "" {
		msg = fmt.Sprint(v...)
	} else {
		msg = fmt.Sprintf(format, v...)
	}
	_ = l.Output(3, msg)
}

func Debug(v ...any) {
	output(LevelDebug, "", v...)
}

func Debugf(format string, v ...any) {
	output(LevelDebug, format, v...)
}

func Info(v ...any) {
	output(LevelInfo, "", v...)
}

func Infof(format string, v ...any) {
	output(LevelInfo, format, v...)
}

func Warn(v ...any) {
	output(LevelWarn, "", v...)
}

func Warnf(format string, v ...any) {
	output(LevelWarn, format, v...)
}

func Error(v ...any) {
	output(LevelError, "", v...)
}

func Errorf(format string, v ...any) {
	output(LevelError, format, v...)
}

func Fatal(v ...any) {
	output(LevelError, "", v...)
	log.Fatal(v...)
}

func Fatalf(format string, v ...any) {
	output(LevelError, format, v...)
	log.Fatalf(format, v...)
}

// Failure writes the structured record of a failed operation:
//
//	op=<op> codespace=<codespace> code=<code> err="<message>" key=value...
func Failure(op string, err error, kv ...any) {
	if err == nil {
		return
	}
	output(LevelError, "%s", FormatFailure(op, err, kv...))
}

func FormatFailure(op string, err error, kv ...any) string {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	var b strings.Builder
	fmt.Fprintf(&b, "op=%s codespace=%s code=%d err=%q", op, codespace, code, err.Error())

	var pending string
	for i, field := range kv {
		if i%2 == 0 {
			pending = fmt.Sprint(field)
			continue
		}
		fmt.Fprintf(&b, " %s=%v", pending, field)
		pending = ""
	}
	if pending != "" {
		fmt.Fprintf(&b, " %s=%s", pending, "MISSING")
	}
	return b.String()
}
