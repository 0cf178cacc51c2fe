package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the logs directory.
const LogFileName = "refresh-token.log"

const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 5
)

var (
	setupOnce      sync.Once
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
	output         logOutput
)

// LogFormatter renders entries as
//
//	[2026-01-02 15:04:05] [a1b2c3d4] [info ] [exchange.go:172] code exchanged session=1f0c… encoding=form attempt=1
//
// Known flow fields come first in a fixed order, any other field follows in key
// order. Values of credential-like fields are shortened with util.HideToken.
type LogFormatter struct{}

var logFieldOrder = []string{"session", "encoding", "attempt", "status", "store", "duration", "error"}

// Format renders a single log entry.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}
	level := entry.Level.String()
	if entry.Level == log.WarnLevel {
		level = "warn"
	}

	fmt.Fprintf(buffer, "[%s] [%s] [%-5s] ", entry.Time.Format("2006-01-02 15:04:05"), reqID, level)
	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	writeFields(buffer, entry.Data)
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

func writeFields(buffer *bytes.Buffer, data log.Fields) {
	if len(data) == 0 {
		return
	}
	extra := make([]string, 0, len(data))
	for k := range data {
		if k != "request_id" && !slices.Contains(logFieldOrder, k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)

	for _, k := range append(slices.Clone(logFieldOrder), extra...) {
		v, ok := data[k]
		if !ok {
			continue
		}
		value := fmt.Sprint(v)
		if util.IsSensitiveKey(k) {
			value = util.HideToken(value)
		}
		fmt.Fprintf(buffer, " %s=%s", k, value)
	}
}

// SetupBaseLogger configures the shared logrus instance and routes Gin's own
// output through it. Only the first call has an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...any) {
			log.Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ResolveLogDirectory returns the logs directory, under WRITABLE_PATH when set.
func ResolveLogDirectory() string {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	return "logs"
}

// ConfigureLogOutput sends logs to stdout or to a rotating file in the logs
// directory, and keeps that directory under LogsMaxTotalSizeMB. A reload with
// unchanged settings keeps the current file open.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()
	if cfg == nil {
		return nil
	}
	return output.apply(outputSettings{
		dir:        ResolveLogDirectory(),
		toFile:     cfg.LoggingToFile,
		maxTotalMB: cfg.LogsMaxTotalSizeMB,
	})
}

type outputSettings struct {
	dir        string
	toFile     bool
	maxTotalMB int
}

// logOutput owns the rotating file and the directory cleaner.
type logOutput struct {
	mu         sync.Mutex
	configured bool
	current    outputSettings
	file       *lumberjack.Logger
	cleaner    *dirCleaner
}

func (o *logOutput) apply(s outputSettings) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.configured && o.current == s {
		return nil
	}

	protectedPath := ""
	if s.toFile {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		protectedPath = filepath.Join(s.dir, LogFileName)
		file := &lumberjack.Logger{
			Filename:   protectedPath,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			Compress:   true,
		}
		log.SetOutput(file)
		o.closeFile()
		o.file = file
	} else {
		log.SetOutput(os.Stdout)
		o.closeFile()
	}

	o.stopCleaner()
	o.cleaner = startDirCleaner(s.dir, s.maxTotalMB, protectedPath)
	o.current, o.configured = s, true
	return nil
}

func (o *logOutput) closeFile() {
	if o.file != nil {
		_ = o.file.Close()
		o.file = nil
	}
}

func (o *logOutput) stopCleaner() {
	if o.cleaner != nil {
		o.cleaner.stop()
		o.cleaner = nil
	}
}

func (o *logOutput) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopCleaner()
	o.closeFile()
	o.configured = false
}

func closeLogOutputs() {
	output.close()
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}
