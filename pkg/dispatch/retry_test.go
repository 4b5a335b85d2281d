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
	"testing"
	"time"
)

func TestRetryPolicyDelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: time.Second, Factor: 2, Jitter: 0}
	if d := p.Delay(1); d != 0 {
		t.Errorf("Delay(1) = %v, want 0 (first attempt is immediate)", d)
	}
	if d := p.Delay(2); d != time.Second {
		t.Errorf("Delay(2) = %v, want 1s", d)
	}
	if d := p.Delay(3); d != 2*time.Second {
		t.Errorf("Delay(3) = %v, want 2s", d)
	}
	if d := p.Delay(4); d != 4*time.Second {
		t.Errorf("Delay(4) = %v, want 4s", d)
	}
}

func TestRetryPolicyJitterBounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Second, Factor: 2, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("Delay(2) = %v, want within +/-20%% of 1s", d)
		}
	}
}

func TestDefaultRetryPolicyMatchesSpec(t *testing.T) {
	if DefaultRetryPolicy.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", DefaultRetryPolicy.MaxAttempts)
	}
	if DefaultRetryPolicy.Base != time.Second {
		t.Errorf("Base = %v, want 1s", DefaultRetryPolicy.Base)
	}
	if DefaultRetryPolicy.Factor != 2 {
		t.Errorf("Factor = %v, want 2", DefaultRetryPolicy.Factor)
	}
}
