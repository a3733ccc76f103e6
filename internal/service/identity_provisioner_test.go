package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func newTestProvisioner(client *stubIdentityClient) (*IdentityProvisioner, *recordingWaiter) {
	p := NewIdentityProvisioner(&stubIdentityProvider{client: client}, IdentityProvisionerConfig{BatchSize: 10}, testLogger())
	waiter := &recordingWaiter{}
	p.limiter = waiter
	return p, waiter
}

func TestIdentityProvisioner_FifteenProfilesRunInTwoBatches(t *testing.T) {
	client := &stubIdentityClient{}
	p, waiter := newTestProvisioner(client)
	profiles := identityProfiles(importRows(15, "user"))

	created, err := p.CreateUsers(context.Background(), "org-1", uuid.New(), profiles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 15 {
		t.Fatalf("expected 15 accounts, got %d", len(created))
	}
	if !reflect.DeepEqual(waiter.calls, []int{10, 5}) {
		t.Fatalf("expected paced batches of 10 and 5, got %v", waiter.calls)
	}
	if len(client.orgBatches) != 2 || len(client.orgBatches[0]) != 10 || len(client.orgBatches[1]) != 5 {
		t.Fatalf("expected organisation membership per batch, got %v", client.orgBatches)
	}
	if client.tokenCalls != 1 {
		t.Fatalf("expected one token request, got %d", client.tokenCalls)
	}
}

func TestIdentityProvisioner_FailureInSecondBatchReportsFirstBatchEmails(t *testing.T) {
	rows := importRows(15, "user")
	client := &stubIdentityClient{fail: map[string]error{}}
	for _, row := range rows[10:] {
		client.fail[row.NormalizedEmail()] = errors.New("identity provider unavailable")
	}
	p, _ := newTestProvisioner(client)
	profiles := identityProfiles(rows)

	_, err := p.CreateUsers(context.Background(), "org-1", uuid.New(), profiles)
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) {
		t.Fatalf("expected ProvisionError, got %v", err)
	}

	if len(provisionErr.SucceededDetailIDs) != 10 {
		t.Fatalf("expected 10 succeeded items, got %d", len(provisionErr.SucceededDetailIDs))
	}
	for i, id := range provisionErr.SucceededDetailIDs {
		if id != profiles[i].DetailID {
			t.Fatalf("succeeded item %d: expected %s, got %s", i, profiles[i].DetailID, id)
		}
	}
	for i, failure := range provisionErr.Failures {
		if failure.DetailID != profiles[10+i].DetailID {
			t.Fatalf("failed item %d: expected %s, got %s", i, profiles[10+i].DetailID, failure.DetailID)
		}
	}

	want := make([]string, 0, 10)
	for _, row := range rows[:10] {
		want = append(want, row.NormalizedEmail())
	}
	if !reflect.DeepEqual(provisionErr.SuccessfulEmails, want) {
		t.Fatalf("expected successful emails %v, got %v", want, provisionErr.SuccessfulEmails)
	}
	if len(provisionErr.Failures) != 5 {
		t.Fatalf("expected 5 failures, got %d", len(provisionErr.Failures))
	}
}

func TestIdentityProvisioner_PacingErrorFailsRemainingProfiles(t *testing.T) {
	client := &stubIdentityClient{}
	p, waiter := newTestProvisioner(client)
	waiter.err = context.Canceled

	_, err := p.CreateUsers(context.Background(), "org-1", uuid.New(), identityProfiles(importRows(3, "user")))
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) {
		t.Fatalf("expected ProvisionError, got %v", err)
	}
	if len(provisionErr.Failures) != 3 || len(provisionErr.SuccessfulEmails) != 0 {
		t.Fatalf("unexpected result: %+v", provisionErr)
	}
	if len(client.created) != 0 {
		t.Fatalf("no account should be created")
	}
}

func TestIdentityProvisioner_TokenFailureIsNotPartial(t *testing.T) {
	client := &stubIdentityClient{tokenErr: errors.New("unauthorized")}
	p, _ := newTestProvisioner(client)

	_, err := p.CreateUsers(context.Background(), "org-1", uuid.New(), identityProfiles(importRows(2, "user")))
	if err == nil {
		t.Fatalf("expected error")
	}
	var provisionErr *ProvisionError
	if errors.As(err, &provisionErr) {
		t.Fatalf("token failure must not be reported as partial success")
	}
}

func TestIdentityProvisioner_EmptyInput(t *testing.T) {
	p, waiter := newTestProvisioner(&stubIdentityClient{})
	created, err := p.CreateUsers(context.Background(), "org-1", uuid.New(), nil)
	if err != nil || len(created) != 0 || len(waiter.calls) != 0 {
		t.Fatalf("expected no work, got %v %v %v", created, err, waiter.calls)
	}
}
