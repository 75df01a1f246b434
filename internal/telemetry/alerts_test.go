/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const alertsPath = "../../deploy/prometheus/alerts.yml"

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

func loadAlerts(t *testing.T) []alertGroup {
	t.Helper()
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Skipf("Skipping test: alerts file not found at %s", alertsPath)
	}
	var config struct {
		Groups []alertGroup `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		t.Fatalf("Invalid YAML in alerts.yml: %v", err)
	}
	if len(config.Groups) == 0 {
		t.Fatal("alerts.yml has no groups")
	}
	return config.Groups
}

func TestAlertsFileValid(t *testing.T) {
	groups := loadAlerts(t)

	required := []string{"PlayoutLoopStalled", "DeadAir", "QueueStarved"}
	seen := map[string]bool{}
	for _, g := range groups {
		for _, r := range g.Rules {
			seen[r.Alert] = true
		}
	}
	for _, name := range required {
		if !seen[name] {
			t.Errorf("alert %q not found in alerts.yml", name)
		}
	}
}

func TestAlertLabels(t *testing.T) {
	for _, g := range loadAlerts(t) {
		for _, alert := range g.Rules {
			if alert.Alert == "" {
				continue
			}
			if _, ok := alert.Labels["severity"]; !ok {
				t.Errorf("Alert '%s' missing 'severity' label", alert.Alert)
			}
			if _, ok := alert.Annotations["summary"]; !ok {
				t.Errorf("Alert '%s' missing 'summary' annotation", alert.Alert)
			}
		}
	}
}

// Every metric referenced by an alert expression must be declared.
func TestAlertMetricsDeclared(t *testing.T) {
	data, err := os.ReadFile("metrics.go")
	if err != nil {
		t.Fatalf("Failed to read metrics.go: %v", err)
	}
	declared := string(data)

	metricRe := regexp.MustCompile(`grimnir_[a-z_]+`)
	for _, g := range loadAlerts(t) {
		for _, alert := range g.Rules {
			for _, name := range metricRe.FindAllString(alert.Expr, -1) {
				if !strings.Contains(declared, `"`+name+`"`) {
					t.Errorf("alert %s references undeclared metric %s", alert.Alert, name)
				}
			}
		}
	}
}
