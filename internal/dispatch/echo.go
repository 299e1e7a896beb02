package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/torqueflow/torque/internal/param"
)

// Echo is a local dispatcher for demos and dry runs. It performs no
// remote calls: every action succeeds, its parameters are logged, and
// actions that create something get a synthesized id in the result so
// rollback mappings like "$result.document_id" resolve.
type Echo struct {
	mu     sync.Mutex
	seq    int
	logger *slog.Logger
}

// NewEcho creates an Echo dispatcher logging to the given logger.
func NewEcho(logger *slog.Logger) *Echo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Echo{logger: logger}
}

// Execute implements Dispatcher.
func (e *Echo) Execute(ctx context.Context, action, target string, params param.Object) (param.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.seq++
	n := e.seq
	e.mu.Unlock()

	result := param.Object{"ok": param.Bool(true)}
	if noun, ok := createdNoun(action); ok {
		result[noun+"_id"] = param.String(fmt.Sprintf("%s-%s-%d", target, noun, n))
	}

	e.logger.Info("echo dispatch",
		"action", action,
		"target", target,
		"params", param.ToAny(params),
	)
	return result, nil
}

// createdNoun extracts the created object's noun from a constructive
// action name ("create_document" -> "document").
func createdNoun(action string) (string, bool) {
	for _, verb := range []string{"create_", "upload_", "append_", "log_"} {
		if strings.HasPrefix(action, verb) && len(action) > len(verb) {
			return strings.TrimPrefix(action, verb), true
		}
	}
	return "", false
}
