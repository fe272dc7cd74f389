package cai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type listApplicationsResponse struct {
	Applications  []Application `json:"applications"`
	NextPageToken string        `json:"next_page_token"`
}

func applicationsPath(projectID string) string {
	return fmt.Sprintf("/projects/%s/applications", url.PathEscape(projectID))
}

func (c *Client) ListApplications(ctx context.Context, projectID string) ([]Application, error) {
	apps := make([]Application, 0)
	err := c.paginate(applicationsPath(projectID), func(pagePath string) (string, error) {
		var page listApplicationsResponse
		if err := c.Request(ctx, http.MethodGet, pagePath, nil, &page); err != nil {
			return "", err
		}
		apps = append(apps, page.Applications...)
		return page.NextPageToken, nil
	})
	if err != nil {
		return nil, err
	}
	return apps, nil
}

func (c *Client) CreateApplication(
	ctx context.Context,
	projectID string,
	req CreateApplicationRequest,
) (*Application, error) {
	a := new(Application)
	if err := c.Request(ctx, http.MethodPost, applicationsPath(projectID), req, a); err != nil {
		return nil, err
	}
	if a.ID == "" {
		return nil, fmt.Errorf("create application %q: response carried no id", req.Name)
	}
	return a, nil
}

func (c *Client) GetApplication(ctx context.Context, projectID, appID string) (*Application, error) {
	a := new(Application)
	path := fmt.Sprintf("%s/%s", applicationsPath(projectID), url.PathEscape(appID))
	if err := c.Request(ctx, http.MethodGet, path, nil, a); err != nil {
		return nil, err
	}
	return a, nil
}
