package config

import "testing"

func TestValidateRejectsZeroCapacities(t *testing.T) {
	cfg := &Config{
		Addr: ":7777", MaxConnections: 0, MaxChannels: 1, WorkerCount: 1,
		LogLevel: "info", LogFormat: "json",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error for MaxConnections < 1")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := &Config{
		Addr: ":7777", MaxConnections: 1, MaxChannels: 1, WorkerCount: 1,
		LogLevel: "verbose", LogFormat: "json",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error for unrecognized log level")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := &Config{
		Addr: ":7777", MaxConnections: 5000, MaxChannels: 2000, WorkerCount: 8,
		LogLevel: "info", LogFormat: "json",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestBrokersSplitsAndTrims(t *testing.T) {
	cfg := &Config{KafkaBrokers: " broker1:9092, broker2:9092 ,"}
	got := cfg.Brokers()
	want := []string{"broker1:9092", "broker2:9092"}
	if len(got) != len(want) {
		t.Fatalf("Brokers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Brokers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBrokersEmptyYieldsNil(t *testing.T) {
	cfg := &Config{KafkaBrokers: "  "}
	if got := cfg.Brokers(); got != nil {
		t.Fatalf("Brokers() = %v, want nil", got)
	}
}
