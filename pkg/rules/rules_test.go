package rules

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"wxreply/pkg/failure"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultRuleScenarios(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()))

	tests := []struct {
		input string
		rule  string
		reply string
	}{
		{"你好", "问候回复", ReplyGreeting},
		{"  你好\n", "问候回复", ReplyGreeting},
		{"再见", "再见回复", ReplyFarewell},
		{"帮助", "帮助回复", ReplyHelp},
		{"今天天气怎么样", "天气询问", ReplyWeather},
		{"现在什么时间", "时间询问", ReplyTime},
		{"我的电话是13812345678", "电话号码", ReplyPhone},
		{"call me at 19900001111 please", "电话号码", ReplyPhone},
		{"我的邮箱是test@example.com", "邮箱地址", ReplyEmail},
		{"mail FOO.bar@Example.ORG", "邮箱地址", ReplyEmail},
		{"您好", SmartQAName, ReplyServiceGreeting},
		{"你好啊", SmartQAName, ReplyServiceGreeting},
		{"HELLO there", SmartQAName, ReplyServiceGreeting},
		{"谢谢你", SmartQAName, ReplyThanks},
		{"Thank you", SmartQAName, ReplyThanks},
		{"你有什么功能", SmartQAName, ReplyFeatures},
		{"这个怎么用", SmartQAName, ReplyFeatures},
	}

	for _, tt := range tests {
		match, ok := set.FindReply(tt.input)
		if !ok {
			t.Fatalf("FindReply(%q) found nothing, want rule %q", tt.input, tt.rule)
		}
		if match.Rule != tt.rule {
			t.Fatalf("FindReply(%q).Rule = %q, want %q", tt.input, match.Rule, tt.rule)
		}
		if match.Reply != tt.reply {
			t.Fatalf("FindReply(%q).Reply = %q, want %q", tt.input, match.Reply, tt.reply)
		}
	}
}

func TestDefaultRulesNoMatch(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()))
	for _, input := range []string{"", "   ", "abc123", "12345678901", "特殊字符!@#$%^&*()", strings.Repeat("a", 10000)} {
		if match, ok := set.FindReply(input); ok {
			t.Fatalf("FindReply(%q) = %+v, want no match", input, match)
		}
	}
}

func TestFindReplyEmptyShortCircuits(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()), WithoutDefaults())
	set.Add(Rule{Name: "everything", Matcher: Contains(""), Reply: "always"})

	if _, ok := set.FindReply(""); ok {
		t.Fatal("expected empty text to short-circuit")
	}
	if _, ok := set.FindReply("x"); !ok {
		t.Fatal("expected non-empty text to reach the catch-all rule")
	}
}

func TestFirstMatchWins(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()), WithoutDefaults())
	set.Add(Rule{Name: "r1", Matcher: Contains("foo"), Reply: "one"})
	set.Add(Rule{Name: "r2", Matcher: Exact("foo"), Reply: "two"})

	match, ok := set.FindReply("foo")
	require.True(t, ok)
	require.Equal(t, "r1", match.Rule)
	require.Equal(t, "one", match.Reply)
}

func TestPatternRulesBeforeFunctionRules(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()), WithoutDefaults())
	set.RegisterFunction("fn", func(string) (string, error) { return "from function", nil })
	set.Add(Rule{Name: "pattern", Matcher: Exact("x"), Reply: "from pattern"})

	match, ok := set.FindReply("x")
	require.True(t, ok)
	require.Equal(t, "from pattern", match.Reply)
	require.False(t, match.Function)

	match, ok = set.FindReply("y")
	require.True(t, ok)
	require.Equal(t, "from function", match.Reply)
	require.True(t, match.Function)
}

func TestMatcherSemantics(t *testing.T) {
	t.Parallel()

	require.True(t, Exact("Hi").Match("Hi"))
	require.False(t, Exact("Hi").Match("hi"))
	require.False(t, Exact("Hi").Match("Hi there"))

	require.True(t, Contains("Weather").Match("what's the WEATHER like"))
	require.False(t, Contains("rain").Match("sunny"))

	re, err := Regex("abc")
	require.NoError(t, err)
	require.True(t, re.Match("xxABCxx"))
	require.False(t, re.Match("ab c"))

	require.False(t, Matcher{}.Match("anything"))
}

func TestRegexRejectedAtRegistration(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()), WithoutDefaults())
	err := set.AddSpec(Spec{Name: "bad", Type: "regex", Pattern: "(", Reply: "never"})
	require.Equal(t, failure.InvalidRule, failure.CategoryOf(err))
	require.Zero(t, set.Len())
}

func TestSpecValidation(t *testing.T) {
	t.Parallel()

	bad := []Spec{
		{Type: "exact", Pattern: "x", Reply: "y"},
		{Name: "n", Type: "exact", Reply: "y"},
		{Name: "n", Type: "exact", Pattern: "x"},
		{Name: "n", Type: "fuzzy", Pattern: "x", Reply: "y"},
	}
	for _, spec := range bad {
		if _, err := spec.Rule(); failure.CategoryOf(err) != failure.InvalidRule {
			t.Fatalf("Spec %+v: err = %v, want invalid_rule", spec, err)
		}
	}

	rule, err := Spec{Name: " vip ", Type: "Contains", Pattern: "VIP", Reply: "welcome"}.Rule()
	require.NoError(t, err)
	require.Equal(t, "vip", rule.Name)
	require.Equal(t, KindContains, rule.Matcher.Kind())
}

func TestFunctionRuleFailuresAreSkipped(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()), WithoutDefaults())
	set.RegisterFunction("errors", func(string) (string, error) { return "ignored", errors.New("boom") })
	set.RegisterFunction("panics", func(string) (string, error) { panic("kaboom") })
	set.RegisterFunction("passes", func(string) (string, error) { return "", nil })
	set.RegisterFunction("answers", func(text string) (string, error) { return "echo:" + text, nil })

	match, ok := set.FindReply(" ping ")
	require.True(t, ok)
	require.Equal(t, "answers", match.Rule)
	require.Equal(t, "echo:ping", match.Reply)
}

func TestFunctionRulesKeepRegistrationOrder(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()), WithoutDefaults())
	for _, name := range []string{"c", "a", "b"} {
		name := name
		set.RegisterFunction(name, func(string) (string, error) { return name, nil })
	}

	for i := 0; i < 20; i++ {
		match, ok := set.FindReply("x")
		require.True(t, ok)
		require.Equal(t, "c", match.Reply)
	}

	set.RegisterFunction("c", func(string) (string, error) { return "c2", nil })
	match, _ := set.FindReply("x")
	require.Equal(t, "c2", match.Reply)
	require.Equal(t, []string{"c", "a", "b"}, set.Info().Functions)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()))

	require.True(t, set.Remove("问候回复"))
	if _, ok := set.FindReply("你好"); ok {
		t.Fatal("expected 你好 to stop matching once its rule is removed")
	}

	require.True(t, set.Remove(SmartQAName))
	if _, ok := set.FindReply("您好"); ok {
		t.Fatal("expected function rule to be removed")
	}

	require.False(t, set.Remove("missing"))
}

func TestRemoveTakesFirstNameMatch(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()), WithoutDefaults())
	set.Add(Rule{Name: "dup", Matcher: Exact("a"), Reply: "first"})
	set.Add(Rule{Name: "dup", Matcher: Exact("a"), Reply: "second"})

	require.True(t, set.Remove("dup"))
	match, ok := set.FindReply("a")
	require.True(t, ok)
	require.Equal(t, "second", match.Reply)
}

func TestClearThenReloadMatchesFreshSet(t *testing.T) {
	t.Parallel()

	extra := Rule{Name: "vip", Matcher: Contains("vip"), Reply: "welcome"}
	fresh := New(WithLogger(quietLogger()), WithExtraRules(extra))

	set := New(WithLogger(quietLogger()), WithExtraRules(extra))
	set.Add(Rule{Name: "temp", Matcher: Exact("temp"), Reply: "temp"})
	set.RegisterFunction("temp-fn", func(string) (string, error) { return "temp", nil })
	set.Clear()
	require.Zero(t, set.Len())
	set.ReloadDefaults()

	require.Equal(t, fresh.Info(), set.Info())

	for _, input := range []string{"你好", "天气", "13812345678", "a@b.cn", "hello", "VIP lounge", "temp", "nothing"} {
		want, wantOK := fresh.FindReply(input)
		got, gotOK := set.FindReply(input)
		require.Equal(t, wantOK, gotOK, input)
		require.Equal(t, want, got, input)
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()))
	info := set.Info()

	require.Equal(t, 7, info.TotalRules)
	require.Equal(t, 1, info.FunctionRules)
	require.Equal(t, []string{SmartQAName}, info.Functions)
	require.Equal(t, RuleInfo{Name: "问候回复", Pattern: "你好", Type: "exact", ReplyPreview: ReplyGreeting}, info.Rules[0])
	require.Equal(t, "regex", info.Rules[5].Type)
	require.Equal(t, PhonePattern, info.Rules[5].Pattern)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	short := strings.Repeat("字", 50)
	require.Equal(t, short, Preview(short))

	long := strings.Repeat("字", 60)
	require.Equal(t, strings.Repeat("字", 50)+"...", Preview(long))
}

func TestConcurrentLookupAndMutation(t *testing.T) {
	t.Parallel()

	set := New(WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				set.FindReply("今天天气怎么样")
				set.Info()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			set.Add(Rule{Name: "tmp", Matcher: Exact("tmp"), Reply: "tmp"})
			set.Remove("tmp")
			set.ReloadDefaults()
		}
	}()

	wg.Wait()

	match, ok := set.FindReply("你好")
	require.True(t, ok)
	require.Equal(t, ReplyGreeting, match.Reply)
}
