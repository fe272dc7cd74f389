package cai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type listJobsResponse struct {
	Jobs          []Job  `json:"jobs"`
	NextPageToken string `json:"next_page_token"`
}

func jobsPath(projectID string) string {
	return fmt.Sprintf("/projects/%s/jobs", url.PathEscape(projectID))
}

func runsPath(projectID, jobID string) string {
	return fmt.Sprintf("%s/%s/runs", jobsPath(projectID), url.PathEscape(jobID))
}

func (c *Client) ListJobs(ctx context.Context, projectID string) ([]Job, error) {
	jobs := make([]Job, 0)
	err := c.paginate(jobsPath(projectID), func(pagePath string) (string, error) {
		var page listJobsResponse
		if err := c.Request(ctx, http.MethodGet, pagePath, nil, &page); err != nil {
			return "", err
		}
		jobs = append(jobs, page.Jobs...)
		return page.NextPageToken, nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) CreateJob(ctx context.Context, projectID string, req CreateJobRequest) (*Job, error) {
	j := new(Job)
	if err := c.Request(ctx, http.MethodPost, jobsPath(projectID), req, j); err != nil {
		return nil, err
	}
	if j.ID == "" {
		return nil, fmt.Errorf("create job %q: response carried no id", req.Name)
	}
	return j, nil
}

func (c *Client) StartJobRun(ctx context.Context, projectID, jobID string) (*JobRun, error) {
	r := new(JobRun)
	if err := c.Request(ctx, http.MethodPost, runsPath(projectID, jobID), struct{}{}, r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, fmt.Errorf("start run of job %s: response carried no id", jobID)
	}
	return r, nil
}

func (c *Client) GetJobRun(ctx context.Context, projectID, jobID, runID string) (*JobRun, error) {
	r := new(JobRun)
	path := fmt.Sprintf("%s/%s", runsPath(projectID, jobID), url.PathEscape(runID))
	if err := c.Request(ctx, http.MethodGet, path, nil, r); err != nil {
		return nil, err
	}
	return r, nil
}
