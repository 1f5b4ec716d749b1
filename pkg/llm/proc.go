// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	terminateGrace = 5 * time.Second
	killGrace      = 2 * time.Second
)

// stopProcess shuts down a child in two phases: a polite terminate signal
// with a grace period, then a hard kill. done must receive the cmd.Wait
// result exactly once.
func stopProcess(cmd *exec.Cmd, done <-chan error, logger *zap.Logger) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			<-done
			return
		}
		logger.Warn("failed to signal subprocess", zap.Int("pid", pid), zap.Error(err))
	}

	select {
	case <-done:
		return
	case <-time.After(terminateGrace):
	}

	logger.Warn("subprocess ignored terminate, killing", zap.Int("pid", pid))
	if err := cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		logger.Warn("failed to kill subprocess", zap.Int("pid", pid), zap.Error(err))
	}

	select {
	case <-done:
	case <-time.After(killGrace):
		logger.Error("subprocess did not exit after kill", zap.Int("pid", pid))
	}
}
