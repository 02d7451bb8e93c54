package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sniper/internal/api"
	"sniper/internal/errors"
)

const (
	defaultCapSolverURL  = "https://api.capsolver.com"
	capSolverPollEvery   = time.Second
	capSolverMaxPolls    = 30
	capSolverStatusReady = "ready"
)

// CapSolverStrategy solves image captchas with capsolver's ImageToTextTask.
type CapSolverStrategy struct {
	baseURL   string
	clientKey string
	client    *http.Client
	pollEvery time.Duration
}

type capSolverTask struct {
	Type   string `json:"type"`
	Body   string `json:"body"`
	Module string `json:"module,omitempty"`
}

type capSolverCreateRequest struct {
	ClientKey string        `json:"clientKey"`
	Task      capSolverTask `json:"task"`
}

type capSolverResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type capSolverResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		Text string `json:"text"`
	} `json:"solution"`
}

// NewCapSolverStrategy creates a capsolver client. An empty baseURL uses
// the public API.
func NewCapSolverStrategy(baseURL, clientKey string, client *http.Client) *CapSolverStrategy {
	if baseURL == "" {
		baseURL = defaultCapSolverURL
	}
	return &CapSolverStrategy{
		baseURL:   strings.TrimRight(baseURL, "/"),
		clientKey: clientKey,
		client:    client,
		pollEvery: capSolverPollEvery,
	}
}

func (s *CapSolverStrategy) Name() string { return "capsolver" }

// Solve creates an ImageToTextTask.
//
// Flow:
//  1. POST /createTask; image tasks usually come back ready
//  2. Otherwise poll /getTaskResult until ready, failed or ctx ends
func (s *CapSolverStrategy) Solve(ctx context.Context, image []byte) (string, error) {
	create := capSolverCreateRequest{
		ClientKey: s.clientKey,
		Task: capSolverTask{
			Type: "ImageToTextTask",
			Body: base64.StdEncoding.EncodeToString(image),
		},
	}

	var resp capSolverResponse
	if err := api.PostJSON(ctx, s.client, s.baseURL+"/createTask", create, &resp); err != nil {
		return "", errors.NewSolverError(s.Name(), err)
	}
	if err := resp.err(); err != nil {
		return "", errors.NewSolverError(s.Name(), err)
	}
	if resp.Status == capSolverStatusReady {
		return resp.Solution.Text, nil
	}
	if resp.TaskID == "" {
		return "", errors.NewSolverError(s.Name(), fmt.Errorf("no task id and status %q", resp.Status))
	}

	poll := capSolverResultRequest{ClientKey: s.clientKey, TaskID: resp.TaskID}
	for i := 0; i < capSolverMaxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", errors.NewSolverError(s.Name(), ctx.Err())
		case <-time.After(s.pollEvery):
		}

		var result capSolverResponse
		if err := api.PostJSON(ctx, s.client, s.baseURL+"/getTaskResult", poll, &result); err != nil {
			return "", errors.NewSolverError(s.Name(), err)
		}
		if err := result.err(); err != nil {
			return "", errors.NewSolverError(s.Name(), err)
		}
		switch result.Status {
		case capSolverStatusReady:
			return result.Solution.Text, nil
		case "failed":
			return "", errors.NewSolverError(s.Name(), fmt.Errorf("task %s failed", resp.TaskID))
		}
	}
	return "", errors.NewSolverError(s.Name(), fmt.Errorf("task %s not ready after %d polls", resp.TaskID, capSolverMaxPolls))
}

func (r capSolverResponse) err() error {
	if r.ErrorID == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", r.ErrorCode, r.ErrorDescription)
}
