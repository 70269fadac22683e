// Package hubspot is the outbound client for the HubSpot REST API. Every
// call takes the bearer token explicitly; callers obtain it from the token
// resolver first, which keeps the refresh-before-use policy in one place.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"hubbridge/internal/platform/config"
)

// APIError reports a non-2xx HubSpot response. Message carries the
// upstream message field when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot api error (status %d): %s", e.StatusCode, e.Message)
}

// Client calls the HubSpot REST API.
type Client struct {
	baseURL         string
	appID           string
	developerAPIKey string
	actionURL       string
	http            *http.Client
}

// New builds a client from the app registration.
func New(hs config.HubSpot, actionURL string) *Client {
	return &Client{
		baseURL:         hs.APIBaseURL,
		appID:           hs.AppID,
		developerAPIKey: hs.DeveloperAPIKey,
		actionURL:       actionURL,
		http:            &http.Client{Timeout: 30 * time.Second},
	}
}

// AccountInfo returns the portal id that owns the given access token.
// Called once per install, right after the code exchange.
func (c *Client) AccountInfo(ctx context.Context, accessToken string) (int64, error) {
	var details struct {
		PortalID int64 `json:"portalId"`
	}
	if err := c.do(ctx, http.MethodGet, "/account-info/v3/details", accessToken, nil, &details); err != nil {
		return 0, err
	}
	if details.PortalID == 0 {
		return 0, &APIError{StatusCode: http.StatusOK, Message: "account details missing portalId"}
	}
	return details.PortalID, nil
}

// Company is the subset of company properties the integration surfaces.
type Company struct {
	ID         string `json:"id"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// CompanyPage is one page of the companies listing.
type CompanyPage struct {
	Results []Company `json:"results"`
}

// Companies lists companies with their name property.
func (c *Client) Companies(ctx context.Context, accessToken string) (*CompanyPage, error) {
	var page CompanyPage
	if err := c.do(ctx, http.MethodGet, "/crm/v3/objects/companies?properties=name", accessToken, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Association is one contact-to-company association edge.
type Association struct {
	ToObjectID       int64 `json:"toObjectId"`
	AssociationTypes []struct {
		Category string `json:"category"`
		TypeID   int64  `json:"typeId"`
	} `json:"associationTypes"`
}

// Associations lists a contact's company associations.
func (c *Client) Associations(ctx context.Context, accessToken, contactID string) ([]Association, error) {
	var resp struct {
		Results []Association `json:"results"`
	}
	path := fmt.Sprintf("/crm/v4/objects/contacts/%s/associations/companies", url.PathEscape(contactID))
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// contactCompanyAssociationTypeID is the HubSpot-defined association type
// linking contacts to companies in the batch create call.
const contactCompanyAssociationTypeID = 279

// SaveAssociations batch-creates contact-to-company associations.
func (c *Client) SaveAssociations(ctx context.Context, accessToken, contactID string, companyIDs []string) (json.RawMessage, error) {
	type endpoint struct {
		ID string `json:"id"`
	}
	type assocType struct {
		Category string `json:"associationCategory"`
		TypeID   int64  `json:"associationTypeId"`
	}
	type input struct {
		From  endpoint    `json:"from"`
		To    endpoint    `json:"to"`
		Types []assocType `json:"types"`
	}
	inputs := make([]input, 0, len(companyIDs))
	for _, companyID := range companyIDs {
		inputs = append(inputs, input{
			From:  endpoint{ID: contactID},
			To:    endpoint{ID: companyID},
			Types: []assocType{{Category: "HUBSPOT_DEFINED", TypeID: contactCompanyAssociationTypeID}},
		})
	}

	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/crm/v4/associations/contacts/companies/batch/create", accessToken,
		map[string]any{"inputs": inputs}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Deal is the subset of deal properties the retry flow reads and writes.
type Deal struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// Deal fetches a deal with the given extra properties.
func (c *Client) Deal(ctx context.Context, accessToken, dealID string, properties ...string) (*Deal, error) {
	path := fmt.Sprintf("/crm/v3/objects/deals/%s", url.PathEscape(dealID))
	if len(properties) > 0 {
		q := url.Values{}
		for _, p := range properties {
			q.Add("properties", p)
		}
		path += "?" + q.Encode()
	}
	var deal Deal
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

// UpdateDeal patches deal properties.
func (c *Client) UpdateDeal(ctx context.Context, accessToken, dealID string, properties map[string]any) error {
	path := fmt.Sprintf("/crm/v3/objects/deals/%s", url.PathEscape(dealID))
	return c.do(ctx, http.MethodPatch, path, accessToken, map[string]any{"properties": properties}, nil)
}

// CompleteCallback marks a blocked workflow action execution as finished.
func (c *Client) CompleteCallback(ctx context.Context, accessToken, callbackID, executionState string) error {
	path := fmt.Sprintf("/automation/v4/actions/callbacks/%s/complete", url.PathEscape(callbackID))
	body := map[string]any{
		"outputFields": map[string]string{"hs_execution_state": executionState},
	}
	return c.do(ctx, http.MethodPost, path, accessToken, body, nil)
}

// blockingFunctionSource runs inside HubSpot after the action URL has been
// called. It parks the execution in BLOCK for up to 7.5 days so the
// callback-complete call can resume it later; without it the action would
// finish immediately and no callback would ever arrive.
const blockingFunctionSource = `exports.main = (event, callback) => {
  callback({
    "outputFields": {
      "hs_execution_state": "BLOCK",
      "hs_expiration_duration": "P7DT12H"
    }
  });
}`

// RegisterCustomAction registers the workflow custom action definition for
// the app. One-shot admin call authenticated by the developer API key, not
// a portal token.
func (c *Client) RegisterCustomAction(ctx context.Context, actionName string) error {
	definition := map[string]any{
		"actionUrl":    c.actionURL,
		"published":    true,
		"outputFields": []any{},
		"labels": map[string]any{
			"en": map[string]string{"actionName": actionName},
		},
		"objectTypes":    []string{"DEAL"},
		"functionType":   "POST_ACTION_EXECUTION",
		"functionSource": blockingFunctionSource,
	}

	path := fmt.Sprintf("/automation/v4/actions/%s?hapikey=%s", url.PathEscape(c.appID), url.QueryEscape(c.developerAPIKey))
	return c.do(ctx, http.MethodPost, path, "", definition, nil)
}

// do performs one request. An empty accessToken omits the Authorization
// header (developer-API-key endpoints). A nil out discards the body.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hubspot request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read hubspot response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var upstream struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &upstream)
		if upstream.Message == "" {
			upstream.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: upstream.Message}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode hubspot response: %w", err)
	}
	return nil
}
