package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/arencloud/depot/internal/stream"
)

// Reasons reported in the result event for a successful run.
const (
	ReasonExitCode      = "exit-code"
	ReasonOutputs       = "outputs-artifact"
	ReasonSuccessMarker = "success-marker"
)

// successMarker is printed by the toolchain once a stack is deployed.
const successMarker = "✅"

var (
	progressCounter = regexp.MustCompile(`^\s*(\S+\s*\|\s*)?\d+/\d+`)
	progressGlyphs  = []string{"✅", "✨", "🚀"}
	progressBanners = []string{
		"Bundling asset",
		"Synthesis time",
		"Deployment time",
		"Total time",
		"Stack ARN",
		"Outputs:",
		"deploying...",
		"creating CloudFormation changeset",
		"IAM Statement Changes",
		"Security Group Changes",
	}
)

// lineLevel tags one output line. The toolchain writes progress to stderr, so
// recognised progress markers on stderr are info rather than warn.
func lineLevel(t stream.EventType, line string) stream.Level {
	if strings.Contains(line, "❌") {
		return stream.LevelError
	}
	if t == stream.TypeStdout || isProgress(line) {
		return stream.LevelInfo
	}
	return stream.LevelWarn
}

func isProgress(line string) bool {
	if progressCounter.MatchString(line) {
		return true
	}
	for _, g := range progressGlyphs {
		if strings.Contains(line, g) {
			return true
		}
	}
	for _, b := range progressBanners {
		if strings.Contains(line, b) {
			return true
		}
	}
	return false
}

// evidence is everything success is decided from.
type evidence struct {
	exitCode        int
	timedOut        bool
	outputsPath     string
	objectStoreName string
	output          string
	started         time.Time
	requireFresh    bool
}

// decide applies the success signals in order: exit code, then an outputs
// artifact naming the object store, then the success marker in the output.
func decide(ev evidence) (bool, string) {
	if ev.timedOut {
		return false, ""
	}
	if ev.exitCode == 0 {
		return true, ReasonExitCode
	}
	if _, err := readStackOutputs(ev.outputsPath, ev.objectStoreName, ev.started, ev.requireFresh); err == nil {
		return true, ReasonOutputs
	}
	if strings.Contains(ev.output, successMarker) {
		return true, ReasonSuccessMarker
	}
	return false, ""
}

var (
	errNoOutputs    = errors.New("no outputs artifact")
	errStaleOutputs = errors.New("outputs artifact predates this run")
	errNoStackEntry = errors.New("outputs artifact has no entry for the object store")
)

// readStackOutputs returns the output map of the first top-level entry whose
// key contains objectStoreName. With requireFresh the file must have been
// written at or after started (second precision, as filesystems vary).
func readStackOutputs(path, objectStoreName string, started time.Time, requireFresh bool) (map[string]string, error) {
	if path == "" || objectStoreName == "" {
		return nil, errNoOutputs
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errNoOutputs
	}
	if requireFresh && fi.ModTime().Before(started.Truncate(time.Second)) {
		return nil, errStaleOutputs
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read outputs: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse outputs: %w", err)
	}
	for key, val := range doc {
		if !strings.Contains(key, objectStoreName) {
			continue
		}
		out := map[string]string{}
		var entries map[string]any
		if err := json.Unmarshal(val, &entries); err != nil {
			return out, nil
		}
		for k, v := range entries {
			if s, ok := v.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprint(v)
			}
		}
		return out, nil
	}
	return nil, errNoStackEntry
}
