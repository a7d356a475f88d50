// Package nlog - channel-engine logger: buffering, timestamping, severity routing
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const maxLineSize = 2 * 1024

var sevText = [...]byte{'I', 'W', 'E'}

type nlog struct {
	file *os.File
	buf  []byte
	mw   sync.Mutex
}

var (
	toStderr     bool
	alsoToStderr bool
	logDir       string
	title        string
	role         string

	nlogs [2]*nlog // sevInfo, sevErr sinks

	onceInitFiles sync.Once
)

func init() {
	toStderr = true // until SetLogDirRole
	nlogs[0] = &nlog{}
	nlogs[1] = &nlog{}
}

func initFiles() {
	if logDir == "" {
		return
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		os.Stderr.WriteString("nlog: " + err.Error() + "\n")
		return
	}
	for i, suffix := range []string{".INFO", ".ERROR"} {
		fqn := filepath.Join(logDir, sname()+suffix)
		file, err := os.OpenFile(fqn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			os.Stderr.WriteString("nlog: " + err.Error() + "\n")
			continue
		}
		nlogs[i].file = file
	}
	toStderr = nlogs[0].file == nil
}

func sname() string {
	s := filepath.Base(os.Args[0])
	if role != "" {
		s += "-" + role
	}
	return s
}

// main function
func log(sev severity, depth int, format string, args ...any) {
	onceInitFiles.Do(initFiles)

	line := formatLine(sev, depth+3, format, args...)
	if toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.Write(line)
	}
	if toStderr {
		return
	}
	if sev >= sevWarn {
		nlogs[1].write(line)
	}
	nlogs[0].write(line)
}

func formatLine(sev severity, depth int, format string, args ...any) []byte {
	var (
		now           = time.Now()
		_, fn, ln, ok = runtime.Caller(depth)
	)
	if !ok {
		fn, ln = "???", 0
	}
	b := make([]byte, 0, 256)
	b = append(b, sevText[sev], ' ')
	b = now.AppendFormat(b, "15:04:05.000000")
	b = append(b, ' ')
	b = append(b, filepath.Base(fn)...)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(ln), 10)
	b = append(b, ' ')
	var s string
	if format == "" {
		s = fmt.Sprintln(args...)
	} else {
		s = fmt.Sprintf(format, args...) + "\n"
	}
	if len(s) > maxLineSize {
		s = s[:maxLineSize-1] + "\n"
	}
	return append(b, s...)
}

//
// nlog sink
//

func (l *nlog) write(line []byte) {
	l.mw.Lock()
	l.buf = append(l.buf, line...)
	if l.file != nil && len(l.buf) >= fixedSize {
		l.file.Write(l.buf)
		l.buf = l.buf[:0]
	}
	l.mw.Unlock()
}

func (l *nlog) flush(sync bool) {
	l.mw.Lock()
	if l.file != nil {
		if len(l.buf) > 0 {
			l.file.Write(l.buf)
			l.buf = l.buf[:0]
		}
		if sync {
			l.file.Sync()
		}
	}
	l.mw.Unlock()
}

const fixedSize = 32 * 1024
