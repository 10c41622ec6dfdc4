package querier

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func TestNew_DefaultsAreSane(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	if q.defaultTimeout != defaultQueryTimeout {
		t.Errorf("defaultTimeout = %v, want %v", q.defaultTimeout, defaultQueryTimeout)
	}
	if !q.rateLimitEnabled {
		t.Error("expected rate limiting enabled by default")
	}
}

func TestWithTimeout(t *testing.T) {
	customTimeout := 2 * time.Second

	q, err := New(WithTimeout(customTimeout))
	if err != nil {
		t.Fatalf("New(WithTimeout) failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	if q.defaultTimeout != customTimeout {
		t.Errorf("defaultTimeout = %v, want %v", q.defaultTimeout, customTimeout)
	}
}

func TestClose_Idempotent(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := q.Close(); err != nil {
		t.Errorf("first Close() returned error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close() returned error: %v", err)
	}
}

func TestWithInterfaces(t *testing.T) {
	tests := []struct {
		name        string
		ifaces      []net.Interface
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid interface list",
			ifaces: []net.Interface{{Name: "eth0", Index: 1}},
		},
		{
			name:        "empty interface list",
			ifaces:      []net.Interface{},
			expectError: true,
			errorMsg:    "interface list cannot be empty",
		},
		{
			name:        "nil interface list",
			ifaces:      nil,
			expectError: true,
			errorMsg:    "interface list cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithInterfaces(tt.ifaces))

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
				}
				if !contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got: %v", tt.errorMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("New(WithInterfaces) failed: %v", err)
			}
			defer func() { _ = q.Close() }()

			if len(q.explicitInterfaces) != len(tt.ifaces) {
				t.Errorf("explicitInterfaces length = %d, want %d", len(q.explicitInterfaces), len(tt.ifaces))
			}
		})
	}
}

func TestWithInterfaceFilter(t *testing.T) {
	t.Run("valid filter function", func(t *testing.T) {
		filter := func(ifc net.Interface) bool { return ifc.Name == "eth0" }

		q, err := New(WithInterfaceFilter(filter))
		if err != nil {
			t.Fatalf("New(WithInterfaceFilter) failed: %v", err)
		}
		defer func() { _ = q.Close() }()

		if q.interfaceFilter == nil {
			t.Error("interfaceFilter was not set")
		}
	})

	t.Run("nil filter function", func(t *testing.T) {
		_, err := New(WithInterfaceFilter(nil))
		if err == nil {
			t.Fatal("expected error for nil filter, got nil")
		}
		if !contains(err.Error(), "filter function cannot be nil") {
			t.Errorf("expected error about nil filter, got: %v", err)
		}
	})
}

func TestWithRateLimit(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		q, err := New(WithRateLimit(enabled))
		if err != nil {
			t.Fatalf("New(WithRateLimit(%v)) failed: %v", enabled, err)
		}
		if q.rateLimitEnabled != enabled {
			t.Errorf("rateLimitEnabled = %v, want %v", q.rateLimitEnabled, enabled)
		}
		_ = q.Close()
	}
}

func TestWithRateLimitThreshold(t *testing.T) {
	tests := []struct {
		name        string
		threshold   int
		expectError bool
	}{
		{"valid threshold", 100, false},
		{"minimum threshold", 1, false},
		{"zero threshold", 0, true},
		{"negative threshold", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithRateLimitThreshold(tt.threshold))

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error for invalid threshold, got nil")
				}
				if !contains(err.Error(), "threshold must be greater than 0") {
					t.Errorf("expected threshold validation error, got: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("New(WithRateLimitThreshold(%d)) failed: %v", tt.threshold, err)
			}
			defer func() { _ = q.Close() }()

			if q.rateLimitThreshold != tt.threshold {
				t.Errorf("rateLimitThreshold = %d, want %d", q.rateLimitThreshold, tt.threshold)
			}
		})
	}
}

func TestWithRateLimitCooldown(t *testing.T) {
	tests := []struct {
		name        string
		cooldown    time.Duration
		expectError bool
	}{
		{"valid cooldown", 60 * time.Second, false},
		{"zero cooldown", 0, true},
		{"negative cooldown", -1 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithRateLimitCooldown(tt.cooldown))

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error for invalid cooldown, got nil")
				}
				if !contains(err.Error(), "cooldown must be greater than 0") {
					t.Errorf("expected cooldown validation error, got: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("New(WithRateLimitCooldown(%v)) failed: %v", tt.cooldown, err)
			}
			defer func() { _ = q.Close() }()

			if q.rateLimitCooldown != tt.cooldown {
				t.Errorf("rateLimitCooldown = %v, want %v", q.rateLimitCooldown, tt.cooldown)
			}
		})
	}
}

// TestQuery_EmptyNameIsRejected exercises Query's empty-name check, which
// runs before any packet is sent.
func TestQuery_EmptyNameIsRejected(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	if _, err := q.Query(context.Background(), "", RecordTypeA); err == nil {
		t.Error("expected an error for an empty name")
	}
}

// TestQuery_RateLimitRefusesOverThreshold drives the limiter past its
// threshold without touching the network (rateLimitThreshold=1 means the
// second call within the cooldown is refused before a packet is sent).
func TestQuery_RateLimitRefusesOverThreshold(t *testing.T) {
	q, err := New(WithRateLimitThreshold(1), WithRateLimitCooldown(time.Minute), WithTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Query(ctx, "first.local", RecordTypeA); err != nil {
		t.Fatalf("first Query() returned error: %v", err)
	}
	if _, err := q.Query(ctx, "second.local", RecordTypeA); err == nil {
		t.Error("expected the second query to be refused by the rate limit")
	}
}

// TestQuery_TimesOutWithEmptyResponse validates that an unanswered query
// returns an empty Response rather than an error (no responder exists for
// this made-up name on the test host's network).
func TestQuery_TimesOutWithEmptyResponse(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing test in short mode")
	}

	q, err := New(WithTimeout(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	resp, err := q.Query(context.Background(), "no-such-host-beacon-test.local", RecordTypeA)
	if err != nil {
		t.Fatalf("Query() returned error: %v", err)
	}
	if len(resp.Records) != 0 {
		t.Errorf("expected no records for an unanswered query, got %+v", resp.Records)
	}
}

// TestConcurrentQueries validates that many concurrent queries complete
// without panicking or deadlocking.
func TestConcurrentQueries(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing test in short mode")
	}

	q, err := New(WithRateLimitThreshold(1000), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	const numQueries = 100
	results := make(chan error, numQueries)
	for i := 0; i < numQueries; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			_, err := q.Query(ctx, "concurrent.local", RecordTypeA)
			results <- err
		}()
	}
	for i := 0; i < numQueries; i++ {
		if err := <-results; err != nil {
			t.Logf("query %d returned error (acceptable): %v", i, err)
		}
	}
}

// TestResourceRecordAccessors validates the type-safe accessor methods
// return nil/empty for wrong types and handle malformed Data gracefully.
func TestResourceRecordAccessors(t *testing.T) {
	tests := []struct {
		name      string
		record    ResourceRecord
		expectA   bool
		expectPTR bool
		expectSRV bool
		expectTXT bool
	}{
		{
			name:    "A record",
			record:  ResourceRecord{Name: "test.local", Type: RecordTypeA, Data: net.IPv4(192, 168, 1, 1)},
			expectA: true,
		},
		{
			name:      "PTR record",
			record:    ResourceRecord{Name: "test.local", Type: RecordTypePTR, Data: "target.local"},
			expectPTR: true,
		},
		{
			name:      "SRV record",
			record:    ResourceRecord{Name: "test.local", Type: RecordTypeSRV, Data: SRVData{Target: "server.local", Port: 8080}},
			expectSRV: true,
		},
		{
			name:      "TXT record",
			record:    ResourceRecord{Name: "test.local", Type: RecordTypeTXT, Data: []string{"key=value", "version=1"}},
			expectTXT: true,
		},
		{
			name:   "A record with wrong data type",
			record: ResourceRecord{Name: "test.local", Type: RecordTypeA, Data: "not an IP"},
		},
		{
			name:   "SRV record with wrong data type",
			record: ResourceRecord{Name: "test.local", Type: RecordTypeSRV, Data: "not SRVData"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ip := tt.record.AsA(); (ip != nil) != tt.expectA {
				t.Errorf("AsA() = %v, expectA %v", ip, tt.expectA)
			}
			if ptr := tt.record.AsPTR(); (ptr != "") != tt.expectPTR {
				t.Errorf("AsPTR() = %q, expectPTR %v", ptr, tt.expectPTR)
			}
			if srv := tt.record.AsSRV(); (srv != nil) != tt.expectSRV {
				t.Errorf("AsSRV() = %v, expectSRV %v", srv, tt.expectSRV)
			}
			if txt := tt.record.AsTXT(); (txt != nil) != tt.expectTXT {
				t.Errorf("AsTXT() = %v, expectTXT %v", txt, tt.expectTXT)
			}
		})
	}
}

func TestRecordTypeString(t *testing.T) {
	tests := []struct {
		recordType RecordType
		expected   string
	}{
		{RecordTypeA, "A"},
		{RecordTypePTR, "PTR"},
		{RecordTypeSRV, "SRV"},
		{RecordTypeTXT, "TXT"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.recordType.String(); got != tt.expected {
				t.Errorf("RecordType(%d).String() = %q, want %q", tt.recordType, got, tt.expected)
			}
		})
	}
}
