package exact

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/mvdwal/exactapi/common/model"
)

// Service is the higher-level facade over Exact Online resources: named
// convenience operations as thin parameter presets over the generic verbs.
// Every call may trigger an implicit token refresh.
type Service interface {
	Me(ctx context.Context, userID string) (*model.Me, error)
	Divisions(ctx context.Context, userID string) ([]model.Division, error)
	Accounts(ctx context.Context, userID string, top, skip int) ([]model.Account, error)
	Items(ctx context.Context, userID string, top, skip int) ([]model.Item, error)
	SalesInvoices(ctx context.Context, userID string, top, skip int) ([]model.SalesInvoice, error)
	ProfitLossOverview(ctx context.Context, userID string, p ProfitLossParams) (*model.ProfitLossOverview, error)

	// Generic passthrough verbs for resources without a preset.
	Get(ctx context.Context, userID, endpoint string, params map[string]string) ([]byte, error)
	Post(ctx context.Context, userID, endpoint string, body io.Reader) ([]byte, error)
	Put(ctx context.Context, userID, endpoint string, body io.Reader) ([]byte, error)
	Delete(ctx context.Context, userID, endpoint string) ([]byte, error)
}

// ProfitLossParams narrows the read/financial/ProfitLossOverview query.
// Zero values are omitted.
type ProfitLossParams struct {
	CurrentYear        int
	CurrentPeriod      int
	PreviousYear       int
	PreviousYearPeriod int
	CurrencyCode       string
}

type exactService struct {
	client Client
}

// NewService constructs a Service on top of a Client.
func NewService(client Client) Service {
	return &exactService{client: client}
}

func pagingParams(top, skip int) map[string]string {
	if top <= 0 {
		top = 100
	}
	params := map[string]string{"$top": strconv.Itoa(top)}
	if skip > 0 {
		params["$skip"] = strconv.Itoa(skip)
	}
	return params
}

// getList fetches a collection endpoint and decodes the OData envelope.
func (s *exactService) getList(ctx context.Context, userID, endpoint string, params map[string]string, out interface{}) error {
	var env model.ODataEnvelope
	if err := s.client.GetJSON(ctx, userID, endpoint, &env, params); err != nil {
		return err
	}
	return env.Results(out)
}

func (s *exactService) Me(ctx context.Context, userID string) (*model.Me, error) {
	var results []model.Me
	if err := s.getList(ctx, userID, "system/Me", nil, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("system/Me returned no results")
	}
	return &results[0], nil
}

func (s *exactService) Divisions(ctx context.Context, userID string) ([]model.Division, error) {
	var divisions []model.Division
	if err := s.getList(ctx, userID, "system/Divisions", nil, &divisions); err != nil {
		return nil, err
	}
	return divisions, nil
}

func (s *exactService) Accounts(ctx context.Context, userID string, top, skip int) ([]model.Account, error) {
	var accounts []model.Account
	if err := s.getList(ctx, userID, "crm/Accounts", pagingParams(top, skip), &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *exactService) Items(ctx context.Context, userID string, top, skip int) ([]model.Item, error) {
	var items []model.Item
	if err := s.getList(ctx, userID, "logistics/Items", pagingParams(top, skip), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *exactService) SalesInvoices(ctx context.Context, userID string, top, skip int) ([]model.SalesInvoice, error) {
	var invoices []model.SalesInvoice
	if err := s.getList(ctx, userID, "salesinvoice/SalesInvoices", pagingParams(top, skip), &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *exactService) ProfitLossOverview(ctx context.Context, userID string, p ProfitLossParams) (*model.ProfitLossOverview, error) {
	params := map[string]string{}
	if p.CurrentYear != 0 {
		params["CurrentYear"] = strconv.Itoa(p.CurrentYear)
	}
	if p.CurrentPeriod != 0 {
		params["CurrentPeriod"] = strconv.Itoa(p.CurrentPeriod)
	}
	if p.PreviousYear != 0 {
		params["PreviousYear"] = strconv.Itoa(p.PreviousYear)
	}
	if p.PreviousYearPeriod != 0 {
		params["PreviousYearPeriod"] = strconv.Itoa(p.PreviousYearPeriod)
	}
	if p.CurrencyCode != "" {
		params["CurrencyCode"] = p.CurrencyCode
	}

	var results []model.ProfitLossOverview
	if err := s.getList(ctx, userID, "read/financial/ProfitLossOverview", params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("ProfitLossOverview returned no results")
	}
	return &results[0], nil
}

func (s *exactService) Get(ctx context.Context, userID, endpoint string, params map[string]string) ([]byte, error) {
	return s.client.GetBytes(ctx, userID, endpoint, params)
}

func (s *exactService) Post(ctx context.Context, userID, endpoint string, body io.Reader) ([]byte, error) {
	return s.client.PostJSON(ctx, userID, endpoint, body)
}

func (s *exactService) Put(ctx context.Context, userID, endpoint string, body io.Reader) ([]byte, error) {
	return s.client.PutJSON(ctx, userID, endpoint, body)
}

func (s *exactService) Delete(ctx context.Context, userID, endpoint string) ([]byte, error) {
	return s.client.DeleteJSON(ctx, userID, endpoint)
}
