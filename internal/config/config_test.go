package config

import (
	"os"
	"testing"
)

func TestDefaultAppliesDefaults(t *testing.T) {
	c := Default()
	if c.Port != 8080 {
		t.Errorf("Port = %d, want 8080", c.Port)
	}
	if c.MaxObjectCopies != 9 {
		t.Errorf("MaxObjectCopies = %d, want 9", c.MaxObjectCopies)
	}
	if c.Placement.OperatorUtilizationPct < c.Placement.UtilizationPct {
		t.Errorf("operator utilization %d must be >= utilization %d",
			c.Placement.OperatorUtilizationPct, c.Placement.UtilizationPct)
	}
	if c.Shark.Retry.MaxAttempts != 2 {
		t.Errorf("Shark.Retry.MaxAttempts = %d, want 2", c.Shark.Retry.MaxAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOCKET_TIMEOUT", "60")
	t.Setenv("MUSKIE_DATA_TIMEOUT", "5000")
	t.Setenv("LOG_LEVEL", "debug")

	c, level, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SocketTimeout.Seconds() != 60 {
		t.Errorf("SocketTimeout = %s, want 60s", c.SocketTimeout)
	}
	if c.DataTimeout.Milliseconds() != 5000 {
		t.Errorf("DataTimeout = %s, want 5000ms", c.DataTimeout)
	}
	if level != 2 {
		t.Errorf("log level = %d, want 2 for LOG_LEVEL=debug", level)
	}
}

func TestLoadFromFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "mantagw-*.json")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString(`{"port": 9090, "max_object_copies": 3}`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	c, _, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != 9090 {
		t.Errorf("Port = %d, want 9090", c.Port)
	}
	if c.MaxObjectCopies != 3 {
		t.Errorf("MaxObjectCopies = %d, want 3", c.MaxObjectCopies)
	}
}

func TestThrottleValidateRejectsZeroConcurrencyWhenEnabled(t *testing.T) {
	tc := &ThrottleConf{Enabled: true}
	if err := tc.Validate(); err == nil {
		t.Fatal("Validate() should reject enabled throttle with concurrency=0")
	}
}
