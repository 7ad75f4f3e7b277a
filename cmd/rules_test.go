package cmd

import (
	"strings"
	"testing"

	"wxreply/pkg/config"
	"wxreply/pkg/rules"
)

func TestBuildRuleSetAppendsExtraRules(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Rules.Extra = []rules.Spec{{Name: "vip", Type: "contains", Pattern: "vip", Reply: "welcome"}}

	ruleSet, err := buildRuleSet(cfg, testLogger())
	if err != nil {
		t.Fatalf("buildRuleSet: %v", err)
	}

	info := ruleSet.Info()
	if info.TotalRules != len(rules.DefaultRules())+1 {
		t.Fatalf("TotalRules = %d, want %d", info.TotalRules, len(rules.DefaultRules())+1)
	}
	if last := info.Rules[len(info.Rules)-1]; last.Name != "vip" {
		t.Fatalf("last rule = %q, want vip", last.Name)
	}
}

func TestBuildRuleSetRejectsBadExtraRule(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Rules.Extra = []rules.Spec{{Name: "broken", Type: "regex", Pattern: "(", Reply: "x"}}

	if _, err := buildRuleSet(cfg, testLogger()); err == nil {
		t.Fatal("expected an invalid regex to be rejected")
	}
}

func TestRenderRuleTable(t *testing.T) {
	t.Parallel()

	out := renderRuleTable(rules.New(rules.WithLogger(testLogger())).Info())

	for _, want := range []string{"NAME", "问候回复", "邮箱地址", rules.SmartQAName, "function", "7 pattern rules · 1 function rules"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rule table missing %q:\n%s", want, out)
		}
	}
}
