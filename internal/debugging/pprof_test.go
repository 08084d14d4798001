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

package debugging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPprofPort(t *testing.T) {
	t.Setenv(PprofPortEnv, "")
	assert.Equal(t, 0, pprofPort())

	t.Setenv(PprofPortEnv, "6061")
	assert.Equal(t, 6061, pprofPort())

	t.Setenv(PprofPortEnv, "off")
	assert.Equal(t, 0, pprofPort())
}
