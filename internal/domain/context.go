package domain

import "context"

type runIDKey struct{}

// WithRunID は実行IDをコンテキストに設定する。リポジトリ層のログにも実行IDが付与される。
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext はコンテキストから実行IDを取り出す。
func RunIDFromContext(ctx context.Context) (string, bool) {
	runID, ok := ctx.Value(runIDKey{}).(string)
	return runID, ok && runID != ""
}
