// Package rules holds the ordered auto-reply rule set and evaluates user text against it.
//
// Pattern rules are checked in insertion order and the first match wins. Function rules
// run afterwards, in registration order, and only when no pattern rule matched.
package rules

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"wxreply/pkg/failure"
)

const replyPreviewLimit = 50

// Rule pairs a matcher with the reply it produces.
type Rule struct {
	Name    string
	Matcher Matcher
	Reply   string
}

// Info describes r with its reply shortened by Preview.
func (r Rule) Info() RuleInfo {
	return RuleInfo{
		Name:         r.Name,
		Pattern:      r.Matcher.Pattern(),
		Type:         r.Matcher.Kind().String(),
		ReplyPreview: Preview(r.Reply),
	}
}

// Handler inspects trimmed user text and returns a reply, or "" to pass.
type Handler func(text string) (string, error)

// FunctionRule is a named handler for matching logic that does not fit one pattern.
type FunctionRule struct {
	Name    string
	Handler Handler
}

// Spec is the serialisable form of a pattern rule used by config files and the admin API.
type Spec struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
	Reply   string `json:"reply"`
}

// Rule validates s and compiles its matcher.
func (s Spec) Rule() (Rule, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return Rule{}, failure.New(failure.InvalidRule, "rule name is required")
	}
	if s.Pattern == "" {
		return Rule{}, failure.New(failure.InvalidRule, fmt.Sprintf("rule %q: pattern is required", name))
	}
	if s.Reply == "" {
		return Rule{}, failure.New(failure.InvalidRule, fmt.Sprintf("rule %q: reply is required", name))
	}

	kind, err := ParseKind(s.Type)
	if err != nil {
		return Rule{}, err
	}

	matcher, err := NewMatcher(kind, s.Pattern)
	if err != nil {
		return Rule{}, err
	}

	return Rule{Name: name, Matcher: matcher, Reply: s.Reply}, nil
}

// Match describes which rule produced a reply.
type Match struct {
	Rule     string
	Reply    string
	Function bool
}

// Info summarises a rule set for operators.
type Info struct {
	TotalRules    int        `json:"total_rules"`
	FunctionRules int        `json:"function_rules"`
	Rules         []RuleInfo `json:"rules"`
	Functions     []string   `json:"functions"`
}

type RuleInfo struct {
	Name         string `json:"name"`
	Pattern      string `json:"pattern"`
	Type         string `json:"type"`
	ReplyPreview string `json:"reply_preview"`
}

// Option configures a RuleSet.
type Option func(*RuleSet)

// WithLogger sets the logger used for rule loading and handler failures.
func WithLogger(log *slog.Logger) Option {
	return func(s *RuleSet) {
		if log != nil {
			s.log = log
		}
	}
}

// WithExtraRules appends rules after the defaults on construction and on every reload.
func WithExtraRules(extra ...Rule) Option {
	return func(s *RuleSet) {
		s.extra = append(s.extra, extra...)
	}
}

// WithoutDefaults starts the set empty. ReloadDefaults still loads the default table.
func WithoutDefaults() Option {
	return func(s *RuleSet) {
		s.skipInitial = true
	}
}

// RuleSet is safe for concurrent use: lookups share a read lock, mutations are exclusive.
type RuleSet struct {
	mu        sync.RWMutex
	rules     []Rule
	functions []FunctionRule

	extra       []Rule
	skipInitial bool
	log         *slog.Logger
}

// New builds a rule set loaded with the default rules plus any extra rules.
func New(opts ...Option) *RuleSet {
	s := &RuleSet{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "rules")

	if !s.skipInitial {
		s.mu.Lock()
		s.loadDefaultsLocked()
		s.mu.Unlock()
	}

	return s
}

// Add appends a pattern rule at the lowest priority.
func (s *RuleSet) Add(rule Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = append(s.rules, rule)
	s.log.Debug("Added reply rule", "rule", rule.Name, "type", rule.Matcher.Kind().String())
}

// AddSpec validates spec and appends the resulting rule.
func (s *RuleSet) AddSpec(spec Spec) error {
	rule, err := spec.Rule()
	if err != nil {
		return err
	}

	s.Add(rule)
	return nil
}

// RegisterFunction adds a function rule. Registering an existing name replaces its handler
// in place.
func (s *RuleSet) RegisterFunction(name string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registerFunctionLocked(name, handler)
}

func (s *RuleSet) registerFunctionLocked(name string, handler Handler) {
	for i := range s.functions {
		if s.functions[i].Name == name {
			s.functions[i].Handler = handler
			return
		}
	}

	s.functions = append(s.functions, FunctionRule{Name: name, Handler: handler})
	s.log.Debug("Registered function rule", "rule", name)
}

// Remove deletes the first pattern rule named name, or else the function rule with that name.
func (s *RuleSet) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rule := range s.rules {
		if rule.Name == name {
			s.rules = append(s.rules[:i:i], s.rules[i+1:]...)
			s.log.Info("Removed reply rule", "rule", name)
			return true
		}
	}

	for i, fn := range s.functions {
		if fn.Name == name {
			s.functions = append(s.functions[:i:i], s.functions[i+1:]...)
			s.log.Info("Removed function rule", "rule", name)
			return true
		}
	}

	return false
}

// Clear drops every rule.
func (s *RuleSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = nil
	s.functions = nil
	s.log.Info("Cleared all reply rules")
}

// ReloadDefaults replaces the current rules with the defaults plus configured extras.
func (s *RuleSet) ReloadDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = nil
	s.functions = nil
	s.loadDefaultsLocked()
}

func (s *RuleSet) loadDefaultsLocked() {
	s.rules = append(s.rules, DefaultRules()...)
	s.rules = append(s.rules, s.extra...)
	s.registerFunctionLocked(SmartQAName, SmartQA)

	s.log.Info("Loaded reply rules", "rules", len(s.rules), "function_rules", len(s.functions), "extra", len(s.extra))
}

// FindReply returns the first matching reply for text. Empty text never matches.
func (s *RuleSet) FindReply(text string) (Match, bool) {
	if text == "" {
		return Match{}, false
	}
	text = strings.TrimSpace(text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		if rule.Reply != "" && rule.Matcher.Match(text) {
			return Match{Rule: rule.Name, Reply: rule.Reply}, true
		}
	}

	for _, fn := range s.functions {
		reply, err := callHandler(fn, text)
		if err != nil {
			s.log.Error("Function rule failed", "rule", fn.Name, "error", err)
			continue
		}
		if reply != "" {
			return Match{Rule: fn.Name, Reply: reply, Function: true}, true
		}
	}

	return Match{}, false
}

func callHandler(fn FunctionRule, text string) (reply string, err error) {
	if fn.Handler == nil {
		return "", nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			reply = ""
			err = failure.Wrap(failure.RuleHandlerFailed, fn.Name, fmt.Errorf("panic: %v", rec))
		}
	}()

	reply, err = fn.Handler(text)
	if err != nil {
		return "", failure.Wrap(failure.RuleHandlerFailed, fn.Name, err)
	}

	return reply, nil
}

// Len returns the number of pattern and function rules.
func (s *RuleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rules) + len(s.functions)
}

// Rules returns a snapshot of the pattern rules in priority order.
func (s *RuleSet) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Info returns a summary with reply previews capped at 50 characters.
func (s *RuleSet) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		TotalRules:    len(s.rules),
		FunctionRules: len(s.functions),
		Rules:         make([]RuleInfo, 0, len(s.rules)),
		Functions:     make([]string, 0, len(s.functions)),
	}

	for _, rule := range s.rules {
		info.Rules = append(info.Rules, rule.Info())
	}
	for _, fn := range s.functions {
		info.Functions = append(info.Functions, fn.Name)
	}

	return info
}

// Preview shortens text to 50 runes, marking the cut with "...".
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= replyPreviewLimit {
		return text
	}

	return string(runes[:replyPreviewLimit]) + "..."
}
