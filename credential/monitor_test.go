package credential

import (
	"context"
	"errors"
	"testing"
)

type fakeValidator struct {
	result Validation
	calls  int
}

func (f *fakeValidator) Validate(ctx context.Context, secret string) Validation {
	f.calls++
	return f.result
}

func TestNetworkErrorKeepsPreviousFlag(t *testing.T) {
	v := &fakeValidator{result: Validation{Err: errors.New("dial timeout")}}
	m := NewMonitor("secret", v)

	m.Check(context.Background())
	if !m.Valid() {
		t.Fatalf("network failure must not flip the flag to invalid")
	}

	// Once invalid, a network failure must not flip it back either.
	v.result = Validation{Valid: false}
	m.Check(context.Background())
	if m.Valid() {
		t.Fatalf("explicit rejection should invalidate")
	}
	v.result = Validation{Err: errors.New("dial timeout")}
	m.Check(context.Background())
	if m.Valid() {
		t.Fatalf("network failure must not resurrect an invalid credential")
	}
}

func TestExplicitRejectionInvalidates(t *testing.T) {
	v := &fakeValidator{result: Validation{Valid: false}}
	m := NewMonitor("secret", v)
	m.Check(context.Background())
	if m.Valid() {
		t.Fatalf("remote rejection must invalidate the flag")
	}

	v.result = Validation{Valid: true, AccountInfo: "premium"}
	m.Check(context.Background())
	if !m.Valid() {
		t.Fatalf("successful validation must restore the flag")
	}
	if m.AccountInfo() != "premium" {
		t.Fatalf("account info not recorded: %q", m.AccountInfo())
	}
}

func TestEmptySecretIsInvalid(t *testing.T) {
	v := &fakeValidator{result: Validation{Valid: true}}
	m := NewMonitor("  ", v)
	m.Check(context.Background())
	if m.Valid() {
		t.Fatalf("blank secret must be invalid")
	}
	if v.calls != 0 {
		t.Fatalf("blank secret should not hit the remote")
	}
}

func TestDownloadErrorSideChannel(t *testing.T) {
	m := NewMonitor("secret", &fakeValidator{})
	m.ReportDownloadError("remote said: token expired, please login again")
	if m.Valid() {
		t.Fatalf("credential-flavored download error must invalidate immediately")
	}

	m2 := NewMonitor("secret", &fakeValidator{})
	m2.ReportDownloadError("connection reset by peer")
	if !m2.Valid() {
		t.Fatalf("generic network error text must not invalidate")
	}
}
