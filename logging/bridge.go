package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Broadcaster is the slice of the fan-out router the bridge needs. The
// return value is how many clients received the payload; the bridge
// ignores it.
type Broadcaster interface {
	BroadcastToPermission(payload, permission string) int
}

// Bridge is a slog.Handler that renders each record as a single text line
// and forwards it to permission-holding clients through a broadcast
// router.
//
// The router is attached after construction: the bridge is created during
// logger setup, before the router exists. Until InstallRouter is called
// the bridge is an explicit no-op and records are dropped on this channel
// only; other handlers attached to the same logger are unaffected.
type Bridge struct {
	level      slog.Leveler
	permission string
	// router is shared by all handlers derived via WithAttrs/WithGroup,
	// so installing on the root bridge reaches every clone.
	router *atomic.Pointer[routerBox]
	attrs  []slog.Attr
	group  string
}

// routerBox wraps the interface so atomic.Pointer has a concrete type.
type routerBox struct {
	router Broadcaster
}

// NewBridge creates a bridge gated at the given minimum level that
// broadcasts to clients holding permission.
func NewBridge(level slog.Leveler, permission string) *Bridge {
	if permission == "" {
		permission = "logs"
	}
	return &Bridge{
		level:      level,
		permission: permission,
		router:     &atomic.Pointer[routerBox]{},
	}
}

// InstallRouter attaches the broadcast router. Records logged before
// installation never reach clients; installation order is the caller's
// responsibility.
func (b *Bridge) InstallRouter(r Broadcaster) {
	b.router.Store(&routerBox{router: r})
}

// Installed reports whether a router has been attached.
func (b *Bridge) Installed() bool {
	return b.router.Load() != nil
}

// Enabled implements slog.Handler.
func (b *Bridge) Enabled(_ context.Context, level slog.Level) bool {
	return b.Installed() && level >= b.level.Level()
}

// Handle implements slog.Handler: format the record and broadcast it.
func (b *Bridge) Handle(_ context.Context, record slog.Record) error {
	box := b.router.Load()
	if box == nil {
		return nil
	}

	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(record.Time.Format("15:04:05"))
	sb.WriteString("] ")
	sb.WriteString(LevelName(record.Level))
	sb.WriteString(": ")
	sb.WriteString(record.Message)

	for _, attr := range b.attrs {
		writeAttr(&sb, b.group, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&sb, b.group, attr)
		return true
	})

	box.router.BroadcastToPermission(sb.String(), b.permission)
	return nil
}

// WithAttrs implements slog.Handler.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := b.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

// WithGroup implements slog.Handler.
func (b *Bridge) WithGroup(name string) slog.Handler {
	clone := b.clone()
	if clone.group == "" {
		clone.group = name
	} else {
		clone.group = clone.group + "." + name
	}
	return clone
}

// clone copies the handler state; the router pointer is shared.
func (b *Bridge) clone() *Bridge {
	return &Bridge{
		level:      b.level,
		permission: b.permission,
		router:     b.router,
		attrs:      append([]slog.Attr(nil), b.attrs...),
		group:      b.group,
	}
}

func writeAttr(sb *strings.Builder, group string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	sb.WriteByte(' ')
	if group != "" {
		sb.WriteString(group)
		sb.WriteByte('.')
	}
	sb.WriteString(attr.Key)
	sb.WriteByte('=')
	sb.WriteString(fmt.Sprint(attr.Value.Any()))
}
