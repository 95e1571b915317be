// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build linux
// +build linux

// Command notifywait watches files or directory trees and prints one line
// per filesystem notification, in the spirit of inotifywait(1).
//
//	notifywait -r -e close_write,create /srv/uploads
//
// The fanotify backend (-b fanotify) requires CAP_SYS_ADMIN.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"
	"github.com/spf13/cobra"

	"github.com/harmjan/notify"
)

var log = logging.MustGetLogger("notifywait")

var formatConsole = logging.MustStringFormatter(
	"%{color}%{time:15:04:05.000} %{level:.4s}%{color:reset} %{message}",
)

var (
	flagRecursive bool
	flagBackend   string
	flagEvents    []string
	flagLogFile   string
)

func main() {
	root := &cobra.Command{
		Use:          "notifywait [flags] path...",
		Short:        "wait for filesystem events and print them",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().BoolVarP(&flagRecursive, "recursive", "r", false, "watch directory trees recursively")
	root.Flags().StringVarP(&flagBackend, "backend", "b", "inotify", "event backend: inotify or fanotify")
	root.Flags().StringSliceVarP(&flagEvents, "event", "e", nil, "event names to wait for (default: all)")
	root.Flags().StringVar(&flagLogFile, "logfile", "", "append log output to file instead of stderr")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() error {
	out := os.Stderr
	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
		if err != nil {
			return err
		}
		out = f
	}
	backend := logging.NewLogBackend(out, "", 0)
	logging.SetBackend(logging.NewBackendFormatter(backend, formatConsole))
	return nil
}

func eventMask() (notify.Event, error) {
	var mask notify.Event
	for _, name := range flagEvents {
		e, err := notify.ParseEvent(name)
		if err != nil {
			return 0, err
		}
		mask |= e
	}
	if mask == 0 {
		mask = notify.All
	}
	return mask, nil
}

func newNotifier() *notify.Notifier {
	switch flagBackend {
	case "fanotify":
		return notify.NewFanotifyNotifier()
	case "inotify":
		return notify.NewInotifyNotifier()
	default:
		log.Warningf("unknown backend %q, falling back to inotify", flagBackend)
		return notify.NewInotifyNotifier()
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	mask, err := eventMask()
	if err != nil {
		return err
	}

	n := newNotifier()
	defer n.Close()
	for _, path := range args {
		if flagRecursive {
			n.WatchPathRecursively(path, mask)
		} else {
			n.WatchFile(path, mask)
		}
	}
	n.OnEvent(mask, func(note notify.Notification) {
		kind := "f"
		if note.IsDir {
			kind = "d"
		}
		log.Infof("%s %s %s", note.Event, kind, note.Path)
	})
	n.OnUnexpectedEvent(func(note notify.Notification) {
		log.Debugf("unexpected %s on %s", note.Event, note.Path)
	})
	n.OnError(func(err error) {
		log.Warningf("%s", err)
	})
	if err := n.Err(); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-interrupt
		log.Noticef("got signal: %s, stopping", sig)
		n.Stop()
	}()

	log.Infof("watching %d path(s), backend=%s", len(args), flagBackend)
	err = n.Run()
	signal.Stop(interrupt)
	return err
}
