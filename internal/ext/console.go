package ext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/hearth/internal/extension"
)

func consoleDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "console",
		Tier:     extension.ExtensionOnly,
		Required: true,
		Ops:      []string{"log", "debug", "info", "warn", "error"},
		Init: func(_ context.Context, ic *extension.InitContext) (extension.State, error) {
			return &ConsoleModule{logger: extLogger(ic, "console").With("script", true)}, nil
		},
	}
}

// ConsoleModule implements hearth.console. Every function joins its
// arguments with spaces and logs the line at the matching level.
type ConsoleModule struct {
	logger *slog.Logger
}

// Ops implements extension.State.
func (m *ConsoleModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "log", Sync: m.at(slog.LevelInfo)},
		{Name: "debug", Sync: m.at(slog.LevelDebug)},
		{Name: "info", Sync: m.at(slog.LevelInfo)},
		{Name: "warn", Sync: m.at(slog.LevelWarn)},
		{Name: "error", Sync: m.at(slog.LevelError)},
	}
}

func (m *ConsoleModule) at(level slog.Level) extension.SyncFunc {
	return func(c *extension.Call) (any, error) {
		m.logger.Log(c.Ctx, level, joinArgs(c.Args))
		return nil, nil
	}
}

func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil:
			parts[i] = "nil"
		case string:
			parts[i] = v
		case extension.Callback:
			parts[i] = "function"
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, " ")
}
