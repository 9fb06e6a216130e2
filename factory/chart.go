/*
Package factory provides JSON to Go chart-of-accounts conversion.

PURPOSE:
  Converts JSON chart definitions into ledger accounts. A company can start
  from the bundled default chart, or ship its own JSON, without code
  changes.

JSON SCHEMA:
  {
    "name": "Default trading company chart",
    "accounts": [
      {"code": "1",  "name": "Assets", "type": "asset", "is_group": true},
      {"code": "11", "name": "Fixed assets", "parent_code": "1", "is_group": true},
      {"code": "32", "name": "Retained earnings", "parent_code": "3"}
    ]
  }

RULES:
  - Roots must name a type; children inherit their parent's type and may
    only restate it
  - A parent must appear before its children and must be a group
  - Codes are unique within the file

SYSTEM ACCOUNTS:
  SystemAccounts maps the roles the engine and its producers rely on to
  default codes. Closing uses RetainedEarnings ("32").

USAGE:
  defs, err := factory.DefaultChart()
  created, err := factory.Seed(ctx, chart, defs)

SEE ALSO:
  - ledger/chart.go: AddAccount, which Seed goes through
  - cmd/server:      "ledger seed" command
*/
package factory

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/ledger-engine/ledger"
)

//go:embed default_chart.json
var defaultChartJSON []byte

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ChartJSON is the JSON representation of a chart of accounts.
type ChartJSON struct {
	Name     string        `json:"name,omitempty"`
	Accounts []AccountJSON `json:"accounts"`
}

// AccountJSON is one account of a ChartJSON.
type AccountJSON struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	ParentCode string `json:"parent_code,omitempty"`
	IsGroup    bool   `json:"is_group,omitempty"`
}

// SystemAccounts are the default codes of accounts with a fixed role.
var SystemAccounts = struct {
	Cash             string
	Customers        string
	Inventory        string
	Suppliers        string
	VATOutput        string
	VATInput         string
	SalesRevenue     string
	OtherRevenue     string
	COGS             string
	Salaries         string
	RetainedEarnings string
}{
	Cash:             "1231",
	Customers:        "1221",
	Inventory:        "121",
	Suppliers:        "201",
	VATOutput:        "2231",
	VATInput:         "1241",
	SalesRevenue:     "411",
	OtherRevenue:     "421",
	COGS:             "511",
	Salaries:         "5311",
	RetainedEarnings: ledger.DefaultRetainedEarningsCode,
}

// =============================================================================
// PARSING
// =============================================================================

// ParseChart decodes and checks a chart definition.
func ParseChart(data []byte) (ChartJSON, error) {
	var c ChartJSON
	if err := json.Unmarshal(data, &c); err != nil {
		return ChartJSON{}, fmt.Errorf("failed to parse chart JSON: %w", err)
	}
	if err := c.Validate(); err != nil {
		return ChartJSON{}, err
	}
	return c, nil
}

// DefaultChart returns the bundled chart of accounts.
func DefaultChart() (ChartJSON, error) {
	return ParseChart(defaultChartJSON)
}

// Validate checks the rules listed in the package documentation.
func (c ChartJSON) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("%w: chart has no accounts", ledger.ErrInvalidInput)
	}
	seen := make(map[string]AccountJSON, len(c.Accounts))
	for i, a := range c.Accounts {
		code := strings.TrimSpace(a.Code)
		if code == "" || strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: account %d needs a code and a name", ledger.ErrInvalidInput, i)
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("%w: duplicate code %s", ledger.ErrInvalidInput, code)
		}
		if a.ParentCode == "" {
			if !ledger.AccountType(a.Type).Valid() {
				return fmt.Errorf("%w: root %s has invalid type %q", ledger.ErrInvalidInput, code, a.Type)
			}
		} else {
			parent, ok := seen[a.ParentCode]
			if !ok {
				return fmt.Errorf("%w: %s references parent %s before it is defined", ledger.ErrInvalidInput, code, a.ParentCode)
			}
			if !parent.IsGroup {
				return fmt.Errorf("%w: parent %s of %s is not a group", ledger.ErrInvalidInput, a.ParentCode, code)
			}
			if a.Type != "" && a.Type != parent.Type {
				return fmt.Errorf("%w: %s has type %s under %s parent %s", ledger.ErrInvalidInput, code, a.Type, parent.Type, a.ParentCode)
			}
			a.Type = parent.Type
		}
		seen[code] = a
	}
	return nil
}

// =============================================================================
// SEEDING
// =============================================================================

// Seed adds every account of c that the chart does not already hold (by
// code, trash included) and returns how many were created.
func Seed(ctx context.Context, chart *ledger.Chart, c ChartJSON) (int, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	existing, err := chart.Accounts(ctx, true)
	if err != nil {
		return 0, err
	}
	byCode := make(map[string]ledger.AccountID, len(existing)+len(c.Accounts))
	for _, a := range existing {
		byCode[a.Code] = a.ID
	}

	created := 0
	for _, a := range c.Accounts {
		if _, ok := byCode[a.Code]; ok {
			continue
		}
		in := ledger.NewAccount{
			Code:    a.Code,
			Name:    a.Name,
			Type:    ledger.AccountType(a.Type),
			IsGroup: a.IsGroup,
		}
		if a.ParentCode != "" {
			parentID, ok := byCode[a.ParentCode]
			if !ok {
				return created, fmt.Errorf("%w: parent %s of %s", ledger.ErrAccountNotFound, a.ParentCode, a.Code)
			}
			in.ParentID = parentID
		}
		acct, err := chart.AddAccount(ctx, in)
		if err != nil {
			return created, fmt.Errorf("seed account %s: %w", a.Code, err)
		}
		byCode[a.Code] = acct.ID
		created++
	}
	return created, nil
}
