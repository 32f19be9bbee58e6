package gusto

import (
	"github.com/GoCodeAlone/gustoflow/module"
	"github.com/GoCodeAlone/gustoflow/plugin"
	"github.com/GoCodeAlone/modular"
)

// moduleFactories returns factories for all module types of the plugin.
func moduleFactories() map[string]plugin.ModuleFactory {
	return map[string]plugin.ModuleFactory{
		module.GustoCredentialType: credentialFactory,
		"staticdata.memory":        memoryStaticDataFactory,
		"staticdata.redis":         redisStaticDataFactory,
		"staticdata.sqlite":        sqliteStaticDataFactory,
		"staticdata.postgres":      postgresStaticDataFactory,
		module.MetricsServiceName:  metricsCollectorFactory,
		"observability.otel":       otelTracingFactory,
	}
}

func credentialFactory(name string, cfg map[string]any) modular.Module {
	credCfg, err := module.ParseGustoCredentialConfig(cfg)
	if err != nil {
		// Return nil; the engine reports the module as unbuildable.
		return nil
	}
	return module.NewGustoCredential(name, credCfg)
}

func memoryStaticDataFactory(name string, _ map[string]any) modular.Module {
	return module.NewMemoryStaticData(name)
}

func redisStaticDataFactory(name string, cfg map[string]any) modular.Module {
	rCfg := module.RedisStaticDataConfig{Address: "localhost:6379", Prefix: "gustoflow:"}
	if v, ok := cfg["address"].(string); ok && v != "" {
		rCfg.Address = v
	}
	if v, ok := cfg["password"].(string); ok {
		rCfg.Password = v
	}
	if v, ok := intValue(cfg["db"]); ok {
		rCfg.DB = v
	}
	if v, ok := cfg["prefix"].(string); ok {
		rCfg.Prefix = v
	}
	return module.NewRedisStaticData(name, rCfg)
}

func sqliteStaticDataFactory(name string, cfg map[string]any) modular.Module {
	dbPath := "data/gustoflow.db"
	if v, ok := cfg["dbPath"].(string); ok && v != "" {
		dbPath = v
	}
	return module.NewSQLiteStaticData(name, dbPath)
}

func postgresStaticDataFactory(name string, cfg map[string]any) modular.Module {
	pgCfg := module.PostgresStaticDataConfig{}
	if v, ok := cfg["dsn"].(string); ok {
		pgCfg.DSN = v
	}
	if v, ok := intValue(cfg["maxConns"]); ok {
		pgCfg.MaxConns = int32(v)
	}
	return module.NewPostgresStaticData(name, pgCfg)
}

func metricsCollectorFactory(name string, cfg map[string]any) modular.Module {
	mcCfg := module.DefaultMetricsCollectorConfig()
	if v, ok := cfg["namespace"].(string); ok {
		mcCfg.Namespace = v
	}
	if v, ok := cfg["subsystem"].(string); ok {
		mcCfg.Subsystem = v
	}
	if v, ok := cfg["metricsPath"].(string); ok {
		mcCfg.MetricsPath = v
	}
	if v, ok := cfg["enabledMetrics"].([]any); ok {
		enabled := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				enabled = append(enabled, s)
			}
		}
		if len(enabled) > 0 {
			mcCfg.EnabledMetrics = enabled
		}
	}
	return module.NewMetricsCollectorWithConfig(name, mcCfg)
}

func otelTracingFactory(name string, cfg map[string]any) modular.Module {
	oCfg := module.OTelTracingConfig{}
	if v, ok := cfg["endpoint"].(string); ok {
		oCfg.Endpoint = v
	}
	if v, ok := cfg["serviceName"].(string); ok {
		oCfg.ServiceName = v
	}
	if v, ok := cfg["insecure"].(bool); ok {
		oCfg.Insecure = v
	}
	switch v := cfg["sampleRatio"].(type) {
	case float64:
		oCfg.SampleRatio = v
	case int:
		oCfg.SampleRatio = float64(v)
	}
	return module.NewOTelTracing(name, oCfg)
}

// intValue accepts the integer shapes produced by YAML and JSON decoding.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
