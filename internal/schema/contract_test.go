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

package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdersContract(t *testing.T) {
	c := Orders()
	assert.Len(t, c.Columns(), 8)
	assert.Equal(t, []string{"order_id", "customer_id"}, c.Required())
	assert.Equal(t, "order_id", c.Unique())
	assert.Equal(t, 1, c.Index("customer_id"))
	assert.Equal(t, -1, c.Index("nope"))
	assert.True(t, c.HeaderMatches(OrdersColumns))
}

func TestContractIsImmutable(t *testing.T) {
	c := Orders()
	cols := c.Columns()
	cols[0] = "mutated"
	assert.Equal(t, "order_id", c.Columns()[0])
}

func TestIsNull(t *testing.T) {
	c := Orders()
	for _, v := range []string{"", "NA", "N/A", "null", "NULL", "NaN", "None", "<NA>"} {
		assert.True(t, c.IsNull(v), "%q", v)
	}
	for _, v := range []string{"O100", "0", " ", "none", "delivered"} {
		assert.False(t, c.IsNull(v), "%q", v)
	}

	strict, err := New(Definition{Columns: []string{"a"}, Unique: "a", NullTokens: []string{}})
	require.NoError(t, err)
	assert.True(t, strict.IsNull(""))
	assert.False(t, strict.IsNull("NA"))
}

func TestNewRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"no columns", Definition{Unique: "a"}},
		{"blank column", Definition{Columns: []string{"a", " "}, Unique: "a"}},
		{"duplicate column", Definition{Columns: []string{"a", "a"}, Unique: "a"}},
		{"unknown required", Definition{Columns: []string{"a"}, Required: []string{"b"}, Unique: "a"}},
		{"no unique", Definition{Columns: []string{"a"}}},
		{"unknown unique", Definition{Columns: []string{"a"}, Unique: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.def)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
columns: [id, customer, status]
required: [id]
unique: id
null_tokens: ["-", "NULL"]
`), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "customer", "status"}, c.Columns())
	assert.Equal(t, []string{"id"}, c.Required())
	assert.True(t, c.IsNull("-"))
	assert.False(t, c.IsNull("NA"))

	def := c.Definition()
	assert.Equal(t, []string{"-", "NULL"}, def.NullTokens)
}

func TestLoadFileDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contract.yaml")
	require.NoError(t, os.WriteFile(path, []byte("null_tokens: [NA]\n"), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, OrdersColumns, c.Columns())
	assert.Equal(t, "order_id", c.Unique())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
