package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"contentforge/internal/campaign"
	"contentforge/internal/flow"
)

var validateWatch bool

func validateFlow(cmd *cobra.Command, args []string) error {
	cfgFlow, graph, err := flow.LoadConfig(args[0])
	if err != nil {
		var cerr *flow.ConfigError
		if errors.As(err, &cerr) {
			fmt.Printf("invalid: %v\n", cerr)
			return err
		}
		return err
	}
	printFlowSummary(cfgFlow, graph)

	if !validateWatch {
		return nil
	}
	ctx, cancel := signalContext()
	defer cancel()
	fmt.Println("watching for changes (ctrl-c to stop)")
	return watchFlow(ctx, args[0])
}

func printFlowSummary(cfgFlow *flow.Config, graph *flow.Graph) {
	fmt.Printf("valid: %d steps\n", len(cfgFlow.Steps))
	for _, s := range graph.Steps() {
		line := fmt.Sprintf("  %3d  %s  (%s)", s.Order, s.ID, s.Name)
		if len(s.AutoReceiveFrom) > 0 {
			line += fmt.Sprintf("  <- %v", s.AutoReceiveFrom)
		}
		fmt.Println(line)
	}
}

// watchFlow revalidates the config on every save until ctx is canceled. A
// bad save prints the error; the last valid summary stays authoritative.
func watchFlow(ctx context.Context, path string) error {
	watcher, err := flow.NewConfigWatcher(path,
		func(cfgFlow *flow.Config, graph *flow.Graph) {
			printFlowSummary(cfgFlow, graph)
		},
		func(err error) {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		},
	)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	<-ctx.Done()
	return nil
}

func lintCampaign(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := a.store.GetCampaign(ctx, args[0])
	if err != nil {
		return err
	}
	p, err := a.store.GetProject(ctx, c.ProjectID)
	if err != nil {
		return err
	}
	cfgFlow := flow.EffectiveConfig(c.FlowOverride, p.Flow)
	if _, err := flow.Build(cfgFlow); err != nil {
		return err
	}

	vars := c.Variables(p.Variables)
	if _, ok := vars[campaign.VarClientName]; !ok && p.Name != "" {
		vars[campaign.VarClientName] = p.Name
	}
	findings := flow.LintVariables(cfgFlow, vars)

	docs, err := a.store.ListDocuments(ctx, c.ProjectID)
	if err != nil {
		return err
	}
	matchable := make([]flow.MatchableDocument, len(docs))
	for i, d := range docs {
		matchable[i] = flow.MatchableDocument{
			ID:       d.ID,
			Filename: d.Filename,
			Tags:     d.Tags,
		}
	}
	findings = append(findings, flow.LintRequiredDocuments(cfgFlow, matchable)...)
	findings = append(findings, flow.LintStatus(c.Status, p.StatusCatalog)...)

	stale := flow.StaleSteps(cfgFlow, c.OutputStamps())

	if len(findings) == 0 && len(stale) == 0 {
		fmt.Println("no findings")
		return nil
	}
	return printJSON(struct {
		Findings   []flow.Finding `json:"findings,omitempty"`
		StaleSteps []string       `json:"stale_steps,omitempty"`
	}{Findings: findings, StaleSteps: stale})
}
