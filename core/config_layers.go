package core

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// OptionsResolver merges the three config sources. Later sources win key by
// key, so a runtime Config only overrides the fields it sets.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticLoader map[string]any

func (l staticLoader) LoadRaw(context.Context) (map[string]any, error) {
	return maps.Clone(map[string]any(l)), nil
}

// StaticConfigLoader serves a fixed raw config map.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	if values == nil {
		values = map[string]any{}
	}
	return staticLoader(values)
}

// CfgxConfigProvider decodes whatever its loader returns through cfgx. A nil
// loader yields the defaults.
type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil || p.Loader == nil {
		return defaults, nil
	}
	raw, err := p.Loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return DecodeConfig(raw, defaults)
}

// DecodeConfig builds a validated Config from a raw map over defaults.
func DecodeConfig(raw map[string]any, defaults Config) (Config, error) {
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// GoOptionsResolver stacks defaults, loaded config and runtime config as
// go-options layers of increasing priority.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	snapshot := opts.WithSnapshotID[map[string]any]
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), configLayer(defaults), snapshot("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), pruneZero(configLayer(loaded)), snapshot("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), pruneZero(configLayer(runtime)), snapshot("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build config layers: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: merge config layers: %w", err)
	}
	return DecodeConfig(merged.Value, defaults)
}

func configLayer(cfg Config) map[string]any {
	w := cfg.Webhooks
	return map[string]any{
		"service_name": cfg.ServiceName,
		"reconciliation": map[string]any{
			"timezone": cfg.Reconciliation.Timezone,
		},
		"webhooks": map[string]any{
			"batch_size":              w.BatchSize,
			"concurrency":             w.Concurrency,
			"default_timeout_seconds": w.DefaultTimeoutSeconds,
			"backoff_base_seconds":    w.BackoffBaseSeconds,
			"max_backoff_seconds":     w.MaxBackoffSeconds,
			"claim_lease_seconds":     w.ClaimLeaseSeconds,
			"max_response_body_bytes": w.MaxResponseBodyBytes,
			"user_agent":              w.UserAgent,
		},
	}
}

// pruneZero drops zero values and the sections they leave empty, so a
// partially set Config does not reset what lower layers provide.
func pruneZero(layer map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range layer {
		if nested, ok := value.(map[string]any); ok {
			if pruned := pruneZero(nested); len(pruned) > 0 {
				out[key] = pruned
			}
			continue
		}
		if value != nil && !reflect.ValueOf(value).IsZero() {
			out[key] = value
		}
	}
	return out
}
