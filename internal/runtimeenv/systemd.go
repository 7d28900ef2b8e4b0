// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtimeenv collects small OS-integration helpers for the daemon
// entry point that don't belong in the engine itself.
package runtimeenv

import (
	"fmt"
	"os"
	"os/exec"
)

// SystemdNotify informs systemd of a readiness/status change if the process
// was started as a systemd unit. https://www.freedesktop.org/software/systemd/man/sd_notify.html
func SystemdNotify(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}
	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	cmd := exec.Command("systemd-notify", args...)
	cmd.Run() // best effort, nothing to do if systemd-notify is unavailable
}
