package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeRegistrar struct {
	tracked   map[string]string
	untracked []string
	trackErr  error
}

func (f *fakeRegistrar) Track(_ context.Context, address, key string) error {
	if f.trackErr != nil {
		return f.trackErr
	}
	if f.tracked == nil {
		f.tracked = map[string]string{}
	}
	f.tracked[address] = key
	return nil
}

func (f *fakeRegistrar) Untrack(address string) error {
	f.untracked = append(f.untracked, address)
	return nil
}

func TestRegistrationHandlerTrackDefaultsKey(t *testing.T) {
	reg := &fakeRegistrar{}
	h := NewRegistrationHandler("signalfuse.registrations", reg, nil, nil)
	if h.Topic() != "signalfuse.registrations" {
		t.Fatalf("unexpected topic %s", h.Topic())
	}

	err := h.Handle(context.Background(), []byte(`{"action":"TRACK","address":" addr1 "}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reg.tracked["addr1"] != "addr1" {
		t.Fatalf("expected address used as key, got %v", reg.tracked)
	}
}

func TestRegistrationHandlerUntrack(t *testing.T) {
	reg := &fakeRegistrar{}
	h := NewRegistrationHandler("t", reg, nil, nil)
	if err := h.Handle(context.Background(), []byte(`{"action":"untrack","address":"addr1"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(reg.untracked) != 1 || reg.untracked[0] != "addr1" {
		t.Fatalf("unexpected untracks %v", reg.untracked)
	}
}

func TestRegistrationHandlerAcknowledgesPoisonMessages(t *testing.T) {
	reg := &fakeRegistrar{trackErr: fmt.Errorf("%w: %q", ErrInvalidAddress, "bad")}
	h := NewRegistrationHandler("t", reg, nil, nil)
	for _, payload := range []string{
		`not json`,
		`{"action":"explode","address":"a"}`,
		`{"action":"track","address":"bad"}`,
	} {
		if err := h.Handle(context.Background(), []byte(payload)); err != nil {
			t.Fatalf("%s: expected nil so the offset is committed, got %v", payload, err)
		}
	}
}

func TestRegistrationHandlerReturnsTransientErrors(t *testing.T) {
	boom := errors.New("rpc down")
	h := NewRegistrationHandler("t", &fakeRegistrar{trackErr: boom}, nil, nil)
	err := h.Handle(context.Background(), []byte(`{"action":"track","address":"a","correlation_key":"BTC"}`))
	if !errors.Is(err, boom) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
