package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

var metricName = regexp.MustCompile(`flourmill_[a-z_]+`)

// Exported by the background worker rather than this registry.
var workerMetrics = map[string]bool{
	"flourmill_job_items_total":     true,
	"flourmill_jobs_total":          true,
	"flourmill_jobs_failures_total": true,
}

func loadAlerts(t *testing.T) alertGroup {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "flourmill.yml"))
	require.NoError(t, err)

	var spec alertSpec
	require.NoError(t, yaml.Unmarshal(data, &spec))
	for _, g := range spec.Groups {
		if g.Name == "flourmill" {
			return g
		}
	}
	t.Fatal("flourmill alert group missing")
	return alertGroup{}
}

func TestAlertRules(t *testing.T) {
	group := loadAlerts(t)

	expected := map[string]string{
		"HighErrorRate":            "critical",
		"HighLatency":              "warning",
		"TransactionRollbackSpike": "warning",
		"UnbalancedJournal":        "critical",
		"EODRunFailing":            "warning",
		"NotificationFailures":     "warning",
	}
	require.Len(t, group.Rules, len(expected))

	runbook, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook.md"))
	require.NoError(t, err)

	for _, rule := range group.Rules {
		severity, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, severity, rule.Labels["severity"], rule.Alert)
		require.NotEmpty(t, rule.Expr, rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)

		link := rule.Annotations["runbook"]
		require.True(t, strings.HasPrefix(link, "docs/runbook.md#"), rule.Alert)
		anchor := strings.TrimPrefix(link, "docs/runbook.md#")
		require.Contains(t, string(runbook), "<a id=\""+anchor+"\"></a>", rule.Alert)
	}
}

func TestAlertRulesReferenceExportedMetrics(t *testing.T) {
	group := loadAlerts(t)

	m := NewMetrics()
	m.OrderCreated("pos")
	m.OrderTransitioned("credit", "approve")
	m.Rollback("create_order")
	m.JournalPosted()
	m.PaymentAllocated("customer", false)
	m.EODRun("error")
	m.NotificationFailed()
	m.requestsTotal.WithLabelValues("/healthz", "200").Inc()
	m.requestDuration.WithLabelValues("/healthz").Observe(0.01)

	families, err := m.registry.Gather()
	require.NoError(t, err)
	exported := make(map[string]bool, len(families))
	for _, mf := range families {
		exported[mf.GetName()] = true
	}

	for _, rule := range group.Rules {
		for _, name := range metricName.FindAllString(rule.Expr, -1) {
			base := strings.TrimSuffix(name, "_bucket")
			require.True(t, exported[base] || workerMetrics[base], "rule %s references unknown metric %s", rule.Alert, name)
		}
	}
}
