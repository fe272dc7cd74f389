package cai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type listProjectsResponse struct {
	Projects      []Project `json:"projects"`
	NextPageToken string    `json:"next_page_token"`
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	projects := make([]Project, 0)
	err := c.paginate("/projects", func(pagePath string) (string, error) {
		var page listProjectsResponse
		if err := c.Request(ctx, http.MethodGet, pagePath, nil, &page); err != nil {
			return "", err
		}
		projects = append(projects, page.Projects...)
		return page.NextPageToken, nil
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	if req.Template == "" {
		req.Template = "git"
	}
	p := new(Project)
	if err := c.Request(ctx, http.MethodPost, "/projects", req, p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("create project %q: response carried no id", req.Name)
	}
	return p, nil
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	p := new(Project)
	path := fmt.Sprintf("/projects/%s", url.PathEscape(projectID))
	if err := c.Request(ctx, http.MethodGet, path, nil, p); err != nil {
		return nil, err
	}
	return p, nil
}
