package model

import (
	"encoding/json"
)

// JSONUnmarshal is a small indirection point for decoding API payloads.
func JSONUnmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// ----------------------------------------------------------------------
// Exact Online REST data structures
// ----------------------------------------------------------------------

// ODataEnvelope is the wrapper Exact Online puts around every response:
// {"d": {"results": [...], "__next": "..."}} for collections, or
// {"d": {...}} for single entities.
type ODataEnvelope struct {
	D ODataBody `json:"d"`
}

// ODataBody holds the collection results plus the continuation link.
type ODataBody struct {
	Results json.RawMessage `json:"results"`
	Next    string          `json:"__next"`
}

// Results decodes the envelope's result set into out (a pointer to a slice).
func (e *ODataEnvelope) Results(out interface{}) error {
	if len(e.D.Results) == 0 {
		return nil
	}
	return json.Unmarshal(e.D.Results, out)
}

// Me is the authenticated user record from current/Me and system/Me.
type Me struct {
	UserID          string `json:"UserID"`
	UserName        string `json:"UserName"`
	FullName        string `json:"FullName"`
	Email           string `json:"Email"`
	CurrentDivision int    `json:"CurrentDivision"`
	Language        string `json:"Language"`
}

// Account is a CRM account (customer/supplier) from crm/Accounts.
type Account struct {
	ID      string `json:"ID"`
	Code    string `json:"Code"`
	Name    string `json:"Name"`
	Email   string `json:"Email"`
	Phone   string `json:"Phone"`
	City    string `json:"City"`
	Country string `json:"Country"`
	Status  string `json:"Status"`
}

// Item is a logistics item from logistics/Items.
type Item struct {
	ID          string  `json:"ID"`
	Code        string  `json:"Code"`
	Description string  `json:"Description"`
	IsSalesItem bool    `json:"IsSalesItem"`
	SalesPrice  float64 `json:"StandardSalesPrice"`
	Unit        string  `json:"Unit"`
}

// SalesInvoice is a sales invoice header from salesinvoice/SalesInvoices.
type SalesInvoice struct {
	InvoiceID     string  `json:"InvoiceID"`
	InvoiceNumber int     `json:"InvoiceNumber"`
	OrderedBy     string  `json:"OrderedBy"`
	OrderedByName string  `json:"OrderedByName"`
	Description   string  `json:"Description"`
	AmountDC      float64 `json:"AmountDC"`
	Currency      string  `json:"Currency"`
	Status        int     `json:"Status"`
}

// Division is an administration from system/Divisions.
type Division struct {
	Code        int    `json:"Code"`
	HID         int    `json:"HID"`
	Description string `json:"Description"`
	Country     string `json:"Country"`
	Currency    string `json:"Currency"`
}

// ProfitLossOverview is the read/financial/ProfitLossOverview aggregate.
type ProfitLossOverview struct {
	CurrentYear               int     `json:"CurrentYear"`
	CurrentPeriod             int     `json:"CurrentPeriod"`
	CurrencyCode              string  `json:"CurrencyCode"`
	RevenueCurrentYear        float64 `json:"RevenueCurrentYear"`
	RevenuePreviousYear       float64 `json:"RevenuePreviousYear"`
	CostsCurrentYear          float64 `json:"CostsCurrentYear"`
	CostsPreviousYear         float64 `json:"CostsPreviousYear"`
	ResultCurrentYear         float64 `json:"ResultCurrentYear"`
	ResultPreviousYear        float64 `json:"ResultPreviousYear"`
	ResultCurrentPeriod       float64 `json:"ResultCurrentPeriod"`
	RevenueCurrentPeriod      float64 `json:"RevenueCurrentPeriod"`
	CostsCurrentPeriod        float64 `json:"CostsCurrentPeriod"`
	PreviousYear              int     `json:"PreviousYear"`
	PreviousYearPeriod        int     `json:"PreviousYearPeriod"`
	ResultPreviousYearPeriod  float64 `json:"ResultPreviousYearPeriod"`
	RevenuePreviousYearPeriod float64 `json:"RevenuePreviousYearPeriod"`
}
