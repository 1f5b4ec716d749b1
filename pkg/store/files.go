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

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/teradata-labs/crucible/pkg/types"
)

// RunDir returns the per-run artifact directory,
// <dataDir>/user_<uid>/runs/<run_id>.
func RunDir(dataDir, userID, runID string) string {
	return filepath.Join(dataDir, "user_"+types.SafeName(userID), "runs", runID)
}

// EnsureRunLogDir creates and returns the per-run log directory,
// <run dir>/logs. run.log and the optional engine output log land here.
func EnsureRunLogDir(dataDir, userID, runID string) (string, error) {
	dir := filepath.Join(RunDir(dataDir, userID, runID), "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run log dir: %w", err)
	}
	return dir, nil
}

// GeneratedDocPath returns where a generated document's markdown lives.
func GeneratedDocPath(dataDir, userID, runID, docID string) string {
	return filepath.Join(RunDir(dataDir, userID, runID), "generated", types.SafeName(docID)+".md")
}

// WriteGeneratedDoc persists one document's content atomically and returns
// the path. Content is never left half-written: the write goes through a
// temp file rename.
func WriteGeneratedDoc(dataDir, userID, runID, docID, content string) (string, error) {
	path := GeneratedDocPath(dataDir, userID, runID, docID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create generated dir: %w", err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return "", fmt.Errorf("failed to write document %s: %w", docID, err)
	}
	return path, nil
}
