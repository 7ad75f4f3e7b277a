package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"wxreply/pkg/config"
	"wxreply/pkg/rules"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective reply rules",
	Long:  "Loads the built-in rules plus rules.extra from config and prints them in evaluation order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ruleSet, err := buildRuleSet(cfg, quietLogger())
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderRuleTable(ruleSet.Info()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

// buildRuleSet loads the defaults followed by the configured extra rules.
func buildRuleSet(cfg *config.Config, log *slog.Logger) (*rules.RuleSet, error) {
	extra, err := cfg.Rules.ExtraRules()
	if err != nil {
		return nil, fmt.Errorf("load extra rules: %w", err)
	}

	return rules.New(rules.WithLogger(log), rules.WithExtraRules(extra...)), nil
}

var (
	ruleHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("28")).Padding(0, 1)
	ruleCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	ruleDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	ruleFooterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("77"))
)

func renderRuleTable(info rules.Info) string {
	rows := make([][]string, 0, len(info.Rules)+len(info.Functions))
	for i, rule := range info.Rules {
		rows = append(rows, []string{strconv.Itoa(i + 1), rule.Name, rule.Type, rule.Pattern, rule.ReplyPreview})
	}
	for i, name := range info.Functions {
		rows = append(rows, []string{strconv.Itoa(len(info.Rules) + i + 1), name, "function", "-", "-"})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("34"))).
		Headers("#", "NAME", "TYPE", "PATTERN", "REPLY").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return ruleHeaderStyle
			case col == 0:
				return ruleDimStyle
			default:
				return ruleCellStyle
			}
		})

	footer := ruleFooterStyle.Render(fmt.Sprintf("%d pattern rules · %d function rules", info.TotalRules, info.FunctionRules))
	return lipgloss.JoinVertical(lipgloss.Left, t.String(), footer)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
