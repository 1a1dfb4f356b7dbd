package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/hubexport/orchestrator"
)

// loadTrigger reads a trigger payload. Files ending in .json are parsed as
// JSON, everything else as YAML.
func loadTrigger(path string) (orchestrator.Trigger, error) {
	var t orchestrator.Trigger

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read trigger: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &t)
	} else {
		err = yaml.Unmarshal(data, &t)
	}
	if err != nil {
		return t, fmt.Errorf("parse trigger %s: %w", path, err)
	}
	return t, nil
}

// triggerFlags are command line overrides for trigger fields.
type triggerFlags struct {
	bucket           string
	sender           string
	recipients       []string
	subject          string
	bodyText         string
	complianceStatus []string
	securityStandard []string
	severity         []string
	workflowStatus   []string
	maxResults       int32
}

func (f *triggerFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.bucket, "bucket", "", "Bucket for partitions and the report")
	fs.StringVar(&f.sender, "sender", "", "Verified SES sender address")
	fs.StringSliceVar(&f.recipients, "recipient", nil, "Recipient address (repeatable)")
	fs.StringVar(&f.subject, "subject", "", "Email subject")
	fs.StringVar(&f.bodyText, "body", "", "Email body text")
	fs.StringSliceVar(&f.complianceStatus, "compliance-status", nil, "Compliance statuses to keep (PASSED, FAILED, WARNING, NOT_AVAILABLE)")
	fs.StringSliceVar(&f.securityStandard, "standard", nil, "Security standards to keep")
	fs.StringSliceVar(&f.severity, "severity", nil, "Severity labels to keep (CRITICAL, HIGH, MEDIUM, LOW, INFORMATIONAL)")
	fs.StringSliceVar(&f.workflowStatus, "workflow-status", nil, "Workflow statuses to keep (NEW, NOTIFIED, RESOLVED, SUPPRESSED)")
	fs.Int32Var(&f.maxResults, "max-results", 0, "Findings per page (1-100)")
}

// apply overrides t with every flag the user set.
func (f *triggerFlags) apply(fs *pflag.FlagSet, t orchestrator.Trigger) orchestrator.Trigger {
	if fs.Changed("bucket") {
		t.Bucket = f.bucket
	}
	if fs.Changed("sender") {
		t.SenderEmail = f.sender
	}
	if fs.Changed("recipient") {
		t.RecipientEmails = f.recipients
	}
	if fs.Changed("subject") {
		t.Subject = &f.subject
	}
	if fs.Changed("body") {
		t.BodyText = &f.bodyText
	}
	if fs.Changed("compliance-status") {
		t.ComplianceStatusFilter = f.complianceStatus
	}
	if fs.Changed("standard") {
		t.SecurityStandardFilter = f.securityStandard
	}
	if fs.Changed("severity") {
		t.SeverityFilter = f.severity
	}
	if fs.Changed("workflow-status") {
		t.WorkflowStatusFilter = f.workflowStatus
	}
	if fs.Changed("max-results") {
		t.MaxResults = &f.maxResults
	}
	return t
}
