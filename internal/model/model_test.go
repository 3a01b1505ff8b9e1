/*
 * Copyright © 2026 Fabric Testbed Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTermExtends(t *testing.T) {
	base := Term{
		Start: time.Unix(0, 0),
		End:   time.Unix(20, 0),
	}

	t.Run("strict extension accepted", func(t *testing.T) {
		successor := Term{Start: base.Start, NewStart: time.Unix(21, 0), End: time.Unix(40, 0)}
		assert.True(t, base.Extends(successor))
	})

	t.Run("overlapping successor rejected", func(t *testing.T) {
		successor := Term{Start: base.Start, NewStart: time.Unix(15, 0), End: time.Unix(40, 0)}
		assert.False(t, base.Extends(successor))
	})

	t.Run("changed start rejected", func(t *testing.T) {
		successor := Term{Start: time.Unix(1, 0), NewStart: time.Unix(21, 0), End: time.Unix(40, 0)}
		assert.False(t, base.Extends(successor))
	})
}

func TestUnitTransition(t *testing.T) {
	u := &Unit{State: UnitDefault}

	assert.True(t, u.Transition(UnitPriming))
	assert.Equal(t, 1, u.Sequence)

	assert.True(t, u.Transition(UnitActive))
	assert.Equal(t, 1, u.Sequence, "Active is not itself a configuration action")

	assert.False(t, u.Transition(UnitClosed), "Active cannot jump straight to Closed")

	assert.True(t, u.Transition(UnitClosing))
	assert.True(t, u.Transition(UnitClosed))
	assert.True(t, u.Terminal())

	assert.False(t, u.Transition(UnitFailed), "a Closed unit cannot fail")
}

func TestUnitSetActiveCount(t *testing.T) {
	s := NewUnitSet()
	for i := 0; i < 3; i++ {
		u := &Unit{ID: NewID(), State: UnitActive}
		s.Units[u.ID] = u
	}
	failing := &Unit{ID: NewID(), State: UnitFailed}
	s.Units[failing.ID] = failing

	assert.Equal(t, 3, s.ActiveCount())
	assert.True(t, s.AllInState(UnitActive), "a Failed unit must not hold up the rest of the set")

	s.Units[NewID()] = &Unit{State: UnitPriming}
	assert.False(t, s.AllInState(UnitActive))
}

func TestResourceCountTally(t *testing.T) {
	c := NewResourceCount()

	active := NewReservation(NewID(), CategoryAuthority, AuthToken{Name: "o1"})
	active.State = ResActive
	active.Resources = &ResourceSet{Units: 3, ResourceType: "compute"}
	c.Tally(active)

	ticketed := NewReservation(NewID(), CategoryBroker, AuthToken{Name: "o1"})
	ticketed.State = ResTicketed
	ticketed.ApprovedResources = &ResourceSet{Units: 2, ResourceType: "compute"}
	c.Tally(ticketed)

	extending := NewReservation(NewID(), CategoryAuthority, AuthToken{Name: "o1"})
	extending.State = ResActiveTicketed
	extending.Resources = &ResourceSet{Units: 1, ResourceType: "vlan"}
	c.Tally(extending)

	assert.Equal(t, 3, c.Active[ResourceType("compute")])
	assert.Equal(t, 2, c.Ticketed[ResourceType("compute")])
	assert.Equal(t, 1, c.Active[ResourceType("vlan")], "ActiveTicketed holds a live lease")
	assert.Equal(t, 1, c.Ticketed[ResourceType("vlan")], "ActiveTicketed also holds an outstanding ticket")
	assert.Empty(t, c.Closed)
}

func TestDelegationAvailable(t *testing.T) {
	d := NewDelegation(NewID(), 10, nil)
	assert.Equal(t, 0, d.Available(), "Nascent delegation has nothing allocatable yet")

	d.State = DelDelegated
	d.Claimed = 3
	assert.Equal(t, 7, d.Available())

	d.Claimed = 11
	assert.Equal(t, 0, d.Available(), "claimed beyond total clamps to zero, never negative")
}
