package app

import (
	"fmt"
	"log"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/markup"
	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/remote/confluence"
	"github.com/Mschirtzinger/tasksync/internal/remote/jira"
	"github.com/Mschirtzinger/tasksync/internal/remote/memory"
)

// Gateways returns the document and issue services described by cfg,
// each wrapped with the configured read and write retry budgets.
func Gateways(cfg config.Config, logger *log.Logger) (core.DocumentService, core.IssueService, error) {
	if !cfg.RemotesConfigured() {
		return nil, nil, fmt.Errorf("%w: confluence.base_url and jira.base_url are required", core.ErrInvalidInput)
	}
	docs, err := confluence.New(cfg.Confluence)
	if err != nil {
		return nil, nil, fmt.Errorf("confluence gateway: %w", err)
	}
	issues, err := jira.New(cfg.Jira)
	if err != nil {
		return nil, nil, fmt.Errorf("jira gateway: %w", err)
	}
	read := remote.PolicyFromConfig(cfg.Retry.Read, logger)
	write := remote.PolicyFromConfig(cfg.Retry.Write, logger)
	return remote.NewDocuments(docs, read, write), remote.NewIssues(issues, read, write), nil
}

// Demo returns in-memory services seeded with a small project: a root
// document "100" anchored to work package DEMO-1, with a child document
// holding two open tasks, and a phase hierarchy below DEMO-1.
func Demo() (*memory.Documents, *memory.Issues) {
	docs := memory.NewDocuments()
	issues := memory.NewIssues()

	issues.Put(core.Issue{Key: "DEMO-1", Summary: "Website relaunch", Type: "Work Package", Status: "Open", Assignee: "pm"})
	issues.Put(core.Issue{Key: "DEMO-2", Summary: "Design", Type: "Phase", Status: "Open", ParentKey: "DEMO-1"})
	issues.Put(core.Issue{Key: "DEMO-3", Summary: "Implementation", Type: "Phase", Status: "Open", ParentKey: "DEMO-1"})

	docs.Put("100", "", "Website relaunch", markup.Anchor("DEMO-1")+"<p>Relaunch of the public website.</p>")
	docs.Put("101", "100", "Kickoff notes",
		"<h2>Action items</h2>"+
			"<ac:task-list>"+
			"<ac:task><ac:task-id>1</ac:task-id><ac:task-status>incomplete</ac:task-status>"+
			"<ac:task-body>Collect hosting quotes by next friday</ac:task-body></ac:task>"+
			"<ac:task><ac:task-id>2</ac:task-id><ac:task-status>incomplete</ac:task-status>"+
			"<ac:task-body>Draft the sitemap</ac:task-body></ac:task>"+
			"<ac:task><ac:task-id>3</ac:task-id><ac:task-status>complete</ac:task-status>"+
			"<ac:task-body>Book the kickoff room</ac:task-body></ac:task>"+
			"</ac:task-list>")
	return docs, issues
}
