// Package nlog - channel-engine logger: buffering, timestamping, severity routing
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package nlog

import (
	"flag"
)

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func InfoDepth(depth int, args ...any) { log(sevInfo, depth, "", args...) }
func Infoln(args ...any) { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any) { log(sevInfo, 0, format, args...) }
func Warningln(args ...any) { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any) { log(sevErr, depth, "", args...) }
func Errorln(args ...any) { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any) { log(sevErr, 0, format, args...) }

func SetLogDirRole(dir, r string) { logDir, role = dir, r; toStderr = dir == "" }
func SetTitle(s string) { title = s }

func InfoLogName() string { return sname() + ".INFO" }
func ErrLogName() string { return sname() + ".ERROR" }

func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	for _, l := range nlogs {
		l.flush(ex)
	}
}
