package store

import (
	"context"
	"time"
)

// Offline is a Store that is never reachable. It stands in when no store could be
// configured, so the limiter and cache run in their degraded modes.
type Offline struct{}

// NewOffline returns an always-unavailable store.
func NewOffline() *Offline {
	return &Offline{}
}

func (Offline) Get(context.Context, string) ([]byte, error) {
	return nil, unavailable("get", nil)
}

func (Offline) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return unavailable("set", nil)
}

func (Offline) Delete(context.Context, ...string) (int64, error) {
	return 0, unavailable("delete", nil)
}

func (Offline) KeysMatching(context.Context, string) ([]string, error) {
	return nil, unavailable("scan", nil)
}

func (Offline) Pipeline() Pipeline {
	return offlinePipeline{}
}

func (Offline) Ping(context.Context) bool {
	return false
}

func (Offline) Close() error {
	return nil
}

type offlinePipeline struct{}

func (offlinePipeline) ZRemRangeByScore(string, float64, float64) {}
func (offlinePipeline) ZAdd(string, float64, string)              {}
func (offlinePipeline) ZCard(string)                              {}
func (offlinePipeline) Expire(string, time.Duration)              {}

func (offlinePipeline) Exec(context.Context) ([]int64, error) {
	return nil, unavailable("pipeline", nil)
}
