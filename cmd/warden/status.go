// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// EndpointStatus is the result of one health endpoint.
type EndpointStatus struct {
	Endpoint string `json:"endpoint"`
	OK       bool   `json:"ok"`
	Code     int    `json:"code,omitempty"`
	Body     string `json:"body,omitempty"`
	Error    string `json:"error,omitempty"`
	Target   string `json:"target"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running warden",
		Long:  `Query the liveness and readiness endpoints served on metrics_addr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "per-endpoint timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	conf, err := readConfig(cmd)
	if err != nil {
		return err
	}
	if conf.MetricsAddr == "" {
		return oops.Code("CONFIG_INVALID").With("field", "metrics_addr").Errorf("metrics_addr is disabled; nothing to query")
	}

	client := &http.Client{Timeout: cfg.timeout}
	base := "http://" + conf.MetricsAddr
	statuses := []EndpointStatus{
		queryEndpoint(cmd.Context(), client, base, "liveness"),
		queryEndpoint(cmd.Context(), client, base, "readiness"),
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return oops.With("operation", "marshal status").Wrap(err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(statuses))
	}

	for _, s := range statuses {
		if !s.OK {
			return oops.Code("WARDEN_UNHEALTHY").With("endpoint", s.Endpoint).Errorf("%s check failed", s.Endpoint)
		}
	}
	return nil
}

func queryEndpoint(ctx context.Context, client *http.Client, base, endpoint string) EndpointStatus {
	status := EndpointStatus{Endpoint: endpoint, Target: base + "/healthz/" + endpoint}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, status.Target, http.NoBody)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // body is informational
	status.Code = resp.StatusCode
	status.Body = strings.TrimSpace(string(body))
	status.OK = resp.StatusCode == http.StatusOK
	return status
}

func formatStatusTable(statuses []EndpointStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ENDPOINT\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "--------\t------\t------")
	for _, s := range statuses {
		state := "ok"
		// Readiness lists one failing dependency per line.
		detail := strings.ReplaceAll(s.Body, "\n", "; ")
		if !s.OK {
			state = "failing"
			if s.Error != "" {
				detail = s.Error
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Endpoint, state, detail)
	}

	_ = w.Flush()
	return buf.String()
}
