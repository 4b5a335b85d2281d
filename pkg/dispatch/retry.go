// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"math/rand"
	"time"
)

// RetryPolicy configures per-host exponential backoff for transient
// transport failures. Module-reported failures and module timeouts never
// retry, regardless of this policy.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Jitter      float64 // fraction, e.g. 0.2 for +/-20%
}

// DefaultRetryPolicy matches the spec's documented defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Base:        time.Second,
	Factor:      2,
	Jitter:      0.2,
}

// Delay returns the backoff delay before attempt (1-indexed: the delay
// preceding the 2nd attempt is Delay(2)).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.Base)
	for i := 1; i < attempt-1; i++ {
		d *= p.Factor
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d += spread*2*rand.Float64() - spread
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
