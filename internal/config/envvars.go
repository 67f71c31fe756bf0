package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv applies ORCD_* environment variable overrides, the final and
// highest-priority layer in Load. Grounded on the teacher's
// EnvVarMapping/ApplyEnvVars pair in internal/config/envvars.go, scoped to
// the settings orcd exposes.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("ORCD_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("ORCD_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("ORCD_LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	if v, ok := os.LookupEnv("ORCD_FORWARD_ENV"); ok {
		cfg.ForwardEnv = splitNonEmpty(v, ",")
	}
	if v, ok := os.LookupEnv("ORCD_POOL_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Size = n
		}
	}
	if v, ok := os.LookupEnv("ORCD_POOL_IMAGE"); ok {
		cfg.Pool.Image = v
	}
	if v, ok := os.LookupEnv("ORCD_LISTEN_ADDR"); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := os.LookupEnv("ORCD_MANAGER_URL"); ok {
		cfg.Server.ManagerURL = v
	}
	if v, ok := os.LookupEnv("ORCD_MERGE_TEST_SCRIPT"); ok {
		cfg.Git.MergeTestScript = v
	}
	applyDurationEnv("ORCD_TIMEOUT_FETCH", &cfg.Timeouts.Fetch)
	applyDurationEnv("ORCD_TIMEOUT_CLONE", &cfg.Timeouts.Clone)
	applyDurationEnv("ORCD_TIMEOUT_MERGE_AND_TEST", &cfg.Timeouts.MergeAndTest)
	applyDurationEnv("ORCD_TIMEOUT_CONTAINER_WAIT", &cfg.Timeouts.ContainerWait)
	applyDurationEnv("ORCD_TIMEOUT_PLAN_GENERATION", &cfg.Timeouts.PlanGeneration)
}

func applyDurationEnv(name string, dst *time.Duration) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
