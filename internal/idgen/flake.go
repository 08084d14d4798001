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

package idgen

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sony/sonyflake"
)

var DefaultFlakeGenerator *SonyFlakeGenerator

func init() {
	var err error
	DefaultFlakeGenerator, err = NewFlakeGenerator()
	if err != nil {
		panic(err)
	}
}

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

var flakeEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFlakeGenerator derives the machine ID from the private IP address, or
// from the hostname on hosts without one.
func NewFlakeGenerator() (*SonyFlakeGenerator, error) {
	return newFlakeGenerator(nil, hostnameMachineID)
}

// newFlakeGenerator uses primary for the machine ID and falls back to
// fallback when primary fails. A nil primary is the private IP lookup.
func newFlakeGenerator(primary, fallback func() (uint16, error)) (*SonyFlakeGenerator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: flakeEpoch, MachineID: primary})
	if err != nil && fallback != nil {
		slog.Debug("sonyflake machine id unavailable, using fallback", slog.Any("error", err))
		sf, err = sonyflake.New(sonyflake.Settings{StartTime: flakeEpoch, MachineID: fallback})
	}
	if err != nil {
		return nil, fmt.Errorf("create sonyflake: %w", err)
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

// hostnameMachineID hashes the hostname into a machine ID. Without a
// hostname a random ID is used.
func hostnameMachineID() (uint16, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uint16(rand.UintN(1 << 16)), nil
	}
	return uint16(xxhash.Sum64String(host)), nil
}

// NextID returns a positive int64 that'll increase roughly in time order.
func (sf *SonyFlakeGenerator) NextID() int64 {
	v, err := sf.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// NextRunID returns a short, time-ordered identifier for one pipeline run.
func (sf *SonyFlakeGenerator) NextRunID() string {
	return "run-" + strconv.FormatInt(sf.NextID(), 36)
}

// NextRunID draws a run identifier from the default generator.
func NextRunID() string {
	return DefaultFlakeGenerator.NextRunID()
}
