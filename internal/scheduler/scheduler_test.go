package scheduler

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/comalice/scxmlrt/model"
)

func TestScheduleDeliversAfterDelay(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	delivered := make(chan model.Event, 1)
	go s.Run()
	defer s.Stop()

	s.Schedule(model.Event{Name: "timeout"}, 5*time.Second, "", func(e model.Event) { delivered <- e })

	mock.Add(4 * time.Second)
	select {
	case <-delivered:
		t.Fatalf("event delivered too early")
	case <-time.After(50 * time.Millisecond):
	}

	mock.Add(2 * time.Second)
	select {
	case e := <-delivered:
		if e.Name != "timeout" {
			t.Fatalf("delivered event = %q", e.Name)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestCancelSuppressesDelivery(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	delivered := make(chan model.Event, 1)
	go s.Run()
	defer s.Stop()

	id := s.Schedule(model.Event{Name: "timeout"}, time.Second, "", func(e model.Event) { delivered <- e })
	if !s.Cancel(id) {
		t.Fatalf("Cancel returned false for pending event")
	}

	mock.Add(2 * time.Second)
	select {
	case e := <-delivered:
		t.Fatalf("cancelled event was delivered: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelUnknownSendIDReturnsFalse(t *testing.T) {
	s := New(clock.NewMock())
	if s.Cancel("nope") {
		t.Fatalf("expected Cancel to return false for unknown sendid")
	}
}

func TestScheduleOrdersBySoonestFirst(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	var order []string
	delivered := make(chan struct{}, 2)
	record := func(e model.Event) {
		order = append(order, e.Name)
		delivered <- struct{}{}
	}
	go s.Run()
	defer s.Stop()

	s.Schedule(model.Event{Name: "second"}, 2*time.Second, "", record)
	s.Schedule(model.Event{Name: "first"}, time.Second, "", record)

	mock.Add(3 * time.Second)
	<-delivered
	<-delivered

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("delivery order = %v, want [first second]", order)
	}
}
