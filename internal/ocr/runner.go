package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Runner executes the external poppler and tesseract binaries. Tests swap in
// a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// execRunner runs commands on the host. A missing binary is reported as a
// configuration error since no retry can fix it.
type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := common.LoggerFrom(ctx, r.logger)
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()
	switch {
	case errors.Is(err, exec.ErrNotFound):
		logger.Error("ocr.exec.missing", "cmd", name)
		return nil, nil, fmt.Errorf("%s is not installed: %w", name, common.ErrConfig)
	case err != nil:
		var exitErr *exec.ExitError
		code := -1
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		logger.Error("ocr.exec.failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"exit_code", code,
			"elapsed_ms", elapsed,
			"stderr", truncate(errb.String(), 8<<10),
			"error", err,
		)
	default:
		logger.Debug("ocr.exec.ok",
			"cmd", name,
			"elapsed_ms", elapsed,
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

// truncate keeps the head of noisy stderr output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
