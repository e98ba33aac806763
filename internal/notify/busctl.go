package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	busName   = "org.freedesktop.Notifications"
	busPath   = "/org/freedesktop/Notifications"
	busMethod = "org.freedesktop.Notifications"
)

// busctl calls a method on the session notification server.
func busctl(ctx context.Context, method, signature string, args ...string) (string, error) {
	argv := append([]string{"--user", "call", busName, busPath, busMethod, method, signature}, args...)
	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", fmt.Errorf("busctl %s: %w", method, err)
		}
		return "", fmt.Errorf("busctl %s: %w (%s)", method, err, trimmed)
	}
	return trimmed, nil
}

// show posts or replaces a notification and returns its server id.
func show(ctx context.Context, appName string, replaceID uint32, summary, body string, timeoutMS int) (uint32, error) {
	out, err := busctl(ctx, "Notify", "susssasa{sv}i",
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		"audio-card",
		summary,
		body,
		"0", // actions
		"0", // hints
		strconv.Itoa(timeoutMS),
	)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("notify: unexpected reply %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("notify: parse id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

func closeNotification(ctx context.Context, id uint32) error {
	_, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	return err
}
