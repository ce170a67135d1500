package context

import "context"

type ContextKey string

var (
	RequestIDKey  = ContextKey("X-Request-Id")
	MethodKey     = ContextKey("X-Method")
	RouteKey      = ContextKey("X-Route")
	RemoteIPKey   = ContextKey("X-Remote-Ip")
	ProjectIDKey  = ContextKey("X-Project-Id")
	SnapshotIDKey = ContextKey("X-Snapshot-Id")
	RunIDKey      = ContextKey("X-Run-Id")
)

func set(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func get(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return set(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return get(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return set(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return get(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return set(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return get(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return set(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return get(ctx, RemoteIPKey)
}

// SetProjectID scopes log lines and spans to a project.
func SetProjectID(ctx context.Context, projectID string) context.Context {
	return set(ctx, ProjectIDKey, projectID)
}

func GetProjectID(ctx context.Context) string {
	return get(ctx, ProjectIDKey)
}

func SetSnapshotID(ctx context.Context, snapshotID string) context.Context {
	return set(ctx, SnapshotIDKey, snapshotID)
}

func GetSnapshotID(ctx context.Context) string {
	return get(ctx, SnapshotIDKey)
}

// SetRunID tags a sync or restore run.
func SetRunID(ctx context.Context, runID string) context.Context {
	return set(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	return get(ctx, RunIDKey)
}

// Fields returns the populated keys as log fields.
func Fields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	for _, key := range []ContextKey{RequestIDKey, ProjectIDKey, SnapshotIDKey, RunIDKey} {
		if v := get(ctx, key); v != "" {
			fields[string(key)] = v
		}
	}
	return fields
}
