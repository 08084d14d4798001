// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package schema describes the fixed contract an orders file must satisfy:
// the ordered header, the columns that may never be null, the column whose
// values must be unique, and which cell values count as null.
package schema

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"
)

// OrdersColumns is the header of the daily orders file, in order.
var OrdersColumns = []string{
	"order_id",
	"customer_id",
	"order_status",
	"order_purchase_timestamp",
	"order_approved_at",
	"order_delivered_carrier_date",
	"order_delivered_customer_date",
	"order_estimated_delivery_date",
}

// DefaultNullTokens are the cell values treated as missing in addition to
// the empty string. They match the NA markers common CSV exporters write.
var DefaultNullTokens = []string{
	"#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// Contract is immutable once built; copy-on-read accessors keep callers
// from mutating it.
type Contract struct {
	columns    []string
	required   []string
	unique     string
	nullTokens mapset.Set[string]
	index      map[string]int
}

// Definition is the serialized form of a Contract.
type Definition struct {
	Columns    []string `yaml:"columns"`
	Required   []string `yaml:"required"`
	Unique     string   `yaml:"unique"`
	NullTokens []string `yaml:"null_tokens"`
}

// New validates s and builds a Contract from it. A nil NullTokens slice
// selects DefaultNullTokens; an empty non-nil slice means only the empty
// string is null.
func New(s Definition) (*Contract, error) {
	if len(s.Columns) == 0 {
		return nil, errors.New("contract has no columns")
	}
	index := make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("contract column %d is blank", i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("contract column %q is listed twice", c)
		}
		index[c] = i
	}
	for _, r := range s.Required {
		if _, ok := index[r]; !ok {
			return nil, fmt.Errorf("required column %q is not in the contract", r)
		}
	}
	if s.Unique == "" {
		return nil, errors.New("contract has no unique column")
	}
	if _, ok := index[s.Unique]; !ok {
		return nil, fmt.Errorf("unique column %q is not in the contract", s.Unique)
	}

	tokens := s.NullTokens
	if tokens == nil {
		tokens = DefaultNullTokens
	}
	nulls := mapset.NewThreadUnsafeSet[string]("")
	for _, t := range tokens {
		nulls.Add(t)
	}

	return &Contract{
		columns:    slices.Clone(s.Columns),
		required:   slices.Clone(s.Required),
		unique:     s.Unique,
		nullTokens: nulls,
		index:      index,
	}, nil
}

// Orders returns the contract for the daily orders file.
func Orders() *Contract {
	c, err := New(Definition{
		Columns:  OrdersColumns,
		Required: []string{"order_id", "customer_id"},
		Unique:   "order_id",
	})
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads a YAML contract. Omitted fields fall back to the orders
// contract.
func LoadFile(path string) (*Contract, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract file: %w", err)
	}
	var s Definition
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse contract file %s: %w", path, err)
	}
	if len(s.Columns) == 0 {
		s.Columns = OrdersColumns
	}
	if s.Required == nil {
		s.Required = []string{"order_id", "customer_id"}
	}
	if s.Unique == "" {
		s.Unique = "order_id"
	}
	return New(s)
}

func (c *Contract) Columns() []string  { return slices.Clone(c.columns) }
func (c *Contract) Required() []string { return slices.Clone(c.required) }
func (c *Contract) Unique() string     { return c.unique }

// Index returns the position of column in the contract, or -1.
func (c *Contract) Index(column string) int {
	if i, ok := c.index[column]; ok {
		return i
	}
	return -1
}

// IsNull reports whether a cell value counts as missing.
func (c *Contract) IsNull(v string) bool {
	return c.nullTokens.Contains(v)
}

// HeaderMatches reports whether header equals the contract columns exactly.
func (c *Contract) HeaderMatches(header []string) bool {
	return slices.Equal(c.columns, header)
}

// Definition returns the serialized form of c.
func (c *Contract) Definition() Definition {
	tokens := c.nullTokens.ToSlice()
	tokens = slices.DeleteFunc(tokens, func(s string) bool { return s == "" })
	slices.Sort(tokens)
	return Definition{
		Columns:    c.Columns(),
		Required:   c.Required(),
		Unique:     c.unique,
		NullTokens: tokens,
	}
}
